package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"findme-ng/internal/clock"
	"findme-ng/internal/config"
	"findme-ng/internal/gpio"
	"findme-ng/internal/modem"
	"findme-ng/internal/serial"
)

const (
	tick            = time.Second
	transcriptLines = 40
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./findme.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clk := clock.System{}
	ch, err := serial.Open(serial.Config{Device: cfg.Serial.Device, Baud: cfg.Serial.Baud}, clk)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer ch.Close()

	power, err := gpio.Open(cfg.Modem.PowerPin, "findme-pwrkey", 0)
	if err != nil {
		log.Fatalf("gpio power key pin=%d: %v", cfg.Modem.PowerPin, err)
	}
	defer power.Close()
	status, err := openStatusPair(cfg.Report.ActivePin, cfg.Report.InactivePin)
	if err != nil {
		log.Fatalf("gpio status lines: %v", err)
	}

	log.Printf("findme-ng starting")
	log.Printf("serial device=%s baud=%d gnss=%s endpoint=%s://%s%s",
		cfg.Serial.Device, cfg.Serial.Baud, cfg.GNSS.Dialect, cfg.Report.Scheme, cfg.Report.Endpoint, cfg.Report.Path)

	port := modem.NewTranscript(ch, transcriptLines)
	rt, err := newRuntime(cfg, port, power, status, clk)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}
	if err := rt.bringUp(); err != nil {
		for _, line := range port.Lines() {
			log.Printf("modem %s", line)
		}
		log.Fatalf("modem bring-up failed: %v", err)
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("systemd notify ready: %v", err)
	}
	watchdog, _ := daemon.SdWatchdogEnabled(false)
	var afterStep func()
	if watchdog > 0 {
		log.Printf("systemd watchdog interval=%s", watchdog)
		afterStep = func() {
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}

	if err := rt.ctl.Run(ctx, tick, afterStep); err != nil && ctx.Err() == nil {
		log.Printf("tracker stopped: %v", err)
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Printf("findme-ng stopping %s", summarize(rt.ctl.Snapshot()))
	rt.shutdown()
}

func openStatusPair(activePin, inactivePin int) (gpio.Pair, error) {
	active, err := gpio.Open(activePin, "findme-active", 0)
	if err != nil {
		return gpio.Pair{}, err
	}
	inactive, err := gpio.Open(inactivePin, "findme-inactive", 0)
	if err != nil {
		_ = active.Close()
		return gpio.Pair{}, err
	}
	return gpio.Pair{Active: active, Inactive: inactive}, nil
}
