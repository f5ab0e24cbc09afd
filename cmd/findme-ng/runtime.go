package main

import (
	"fmt"
	"log"

	"findme-ng/internal/clock"
	"findme-ng/internal/config"
	"findme-ng/internal/gnss"
	"findme-ng/internal/gpio"
	"findme-ng/internal/modem"
	"findme-ng/internal/report"
	"findme-ng/internal/tracker"
)

// runtime holds every component sharing the single modem channel.
type runtime struct {
	cfg config.Config

	session *modem.Session
	pdp     *modem.PDPContext
	gnss    *gnss.Provider
	client  *report.Client
	status  gpio.Pair
	ctl     *tracker.Controller

	logf func(format string, args ...any)
}

func newRuntime(cfg config.Config, port modem.Port, power gpio.Output, status gpio.Pair, clk clock.Clock) (*runtime, error) {
	dialect, err := gnss.DialectByName(cfg.GNSS.Dialect)
	if err != nil {
		return nil, err
	}

	session := modem.NewSession(port, power, clk, modem.Config{
		BootWait:             cfg.Modem.BootWait,
		CommandTimeout:       cfg.Modem.CommandTimeout,
		HandshakeAttempts:    cfg.Modem.HandshakeAttempts,
		RegistrationAttempts: cfg.Modem.RegistrationAttempts,
		RegistrationCommand:  cfg.Modem.RegistrationCommand,
		RestartSettle:        cfg.Modem.RestartSettle,
		ClockMinYear:         cfg.Modem.ClockMinYear,
	})

	pdp := modem.NewPDPContext(port, clk)
	pdp.CommandTimeout = cfg.Modem.CommandTimeout

	provider := gnss.NewProvider(port, clk, gnss.Config{
		Dialect:        dialect,
		AttemptDelay:   cfg.GNSS.AttemptDelay,
		CommandTimeout: cfg.Modem.CommandTimeout,
	})

	client := report.NewClient(port, pdp, report.Config{
		Scheme:         cfg.Report.Scheme,
		Endpoint:       cfg.Report.Endpoint,
		Path:           cfg.Report.Path,
		Token:          cfg.Device.Token,
		APN:            cfg.Report.APN,
		ActionTimeout:  cfg.Report.ActionTimeout,
		CommandTimeout: cfg.Modem.CommandTimeout,
	})

	ctl := tracker.New(tracker.Config{
		PollInterval:      cfg.Tracker.PollInterval,
		HeartbeatInterval: cfg.Tracker.HeartbeatInterval,
		FixAttempts:       cfg.GNSS.FixAttempts,
		MaxGNSSFailures:   cfg.Tracker.MaxGNSSFailures,
	}, provider, client, status, tracker.MotionTrigger{ThresholdM: cfg.Tracker.MovementThresholdM}, clk)

	return &runtime{
		cfg:     cfg,
		session: session,
		pdp:     pdp,
		gnss:    provider,
		client:  client,
		status:  status,
		ctl:     ctl,
		logf:    log.Printf,
	}, nil
}

// setLogf routes every component's log output through logf.
func (rt *runtime) setLogf(logf func(format string, args ...any)) {
	rt.logf = logf
	rt.session.Logf = logf
	rt.pdp.Logf = logf
	rt.gnss.Logf = logf
	rt.client.Logf = logf
	rt.ctl.Logf = logf
}

// bringUp powers the module and prepares the network. Only a module that
// never answers is fatal; everything after the handshake degrades.
func (rt *runtime) bringUp() error {
	if err := rt.session.PowerOn(); err != nil {
		return err
	}
	if err := rt.session.Handshake(rt.cfg.Modem.HandshakeAttempts); err != nil {
		return err
	}
	if err := rt.gnss.PowerOn(); err != nil {
		rt.logf("gnss unavailable at start: %v", err)
	}
	if _, err := rt.session.WaitForRegistration(rt.cfg.Modem.RegistrationAttempts); err != nil {
		rt.logf("continuing unregistered: %v", err)
	}
	if _, err := rt.session.EnsureValidClock(); err != nil {
		rt.logf("continuing with invalid clock: %v", err)
	}
	if sig, err := rt.session.SignalQuality(); err != nil {
		rt.logf("signal quality unavailable: %v", err)
	} else {
		rt.logf("signal %s", formatSignal(sig))
	}
	if err := rt.pdp.EnsureActive(rt.cfg.Report.APN); err != nil {
		rt.logf("pdp not active at start: %v", err)
	}
	return nil
}

func (rt *runtime) shutdown() {
	if err := rt.gnss.PowerOff(); err != nil {
		rt.logf("gnss power off: %v", err)
	}
	if err := rt.status.Close(); err != nil {
		rt.logf("gpio status release: %v", err)
	}
}

func formatSignal(s modem.Signal) string {
	if !s.Known {
		return fmt.Sprintf("rssi=%d ber=%d dbm=unknown", s.RSSI, s.BER)
	}
	return fmt.Sprintf("rssi=%d ber=%d dbm=%d", s.RSSI, s.BER, s.DBM)
}
