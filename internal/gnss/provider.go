package gnss

import (
	"log"
	"time"

	"github.com/juju/errors"

	"findme-ng/internal/clock"
	"findme-ng/internal/modem"
)

const (
	defaultAttemptDelay = time.Second
	restartPause        = time.Second
)

type Config struct {
	Dialect        Dialect
	AttemptDelay   time.Duration
	CommandTimeout time.Duration
}

// Provider shares the module's command channel; the caller serialises
// access.
type Provider struct {
	port modem.Port
	clk  clock.Clock
	cfg  Config

	Logf func(format string, args ...any)
}

func NewProvider(port modem.Port, clk clock.Clock, cfg Config) *Provider {
	if cfg.Dialect.Info == "" {
		cfg.Dialect = A7670
	}
	if cfg.AttemptDelay <= 0 {
		cfg.AttemptDelay = defaultAttemptDelay
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = modem.DefaultCommandTimeout
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Provider{port: port, clk: clk, cfg: cfg, Logf: log.Printf}
}

// PowerOn enables the GNSS engine, retrying once.
func (p *Provider) PowerOn() error {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = modem.Exchange(p.port, p.cfg.Dialect.PowerOn, p.cfg.CommandTimeout).Err()
		if err == nil {
			p.logf("gnss power on dialect=%s", p.cfg.Dialect.Name)
			return nil
		}
		p.logf("gnss power on failed attempt=%d: %v", attempt, err)
	}
	return errors.Annotate(err, "gnss power on")
}

func (p *Provider) PowerOff() error {
	err := modem.Exchange(p.port, p.cfg.Dialect.PowerOff, p.cfg.CommandTimeout).Err()
	return errors.Annotate(err, "gnss power off")
}

// Restart power-cycles the GNSS engine.
func (p *Provider) Restart() error {
	if err := p.PowerOff(); err != nil {
		p.logf("gnss restart: %v", err)
	}
	p.clk.Sleep(restartPause)
	return p.PowerOn()
}

// AcquireFix polls the info query up to maxAttempts times. An invalid Fix
// is the normal outcome before the receiver has a lock.
func (p *Provider) AcquireFix(maxAttempts int) Fix {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r := modem.Exchange(p.port, p.cfg.Dialect.Info, p.cfg.CommandTimeout)
		if err := r.Err(); err != nil {
			p.logf("gnss query failed attempt=%d: %v", attempt, err)
		} else if fix := ParseFixLine(p.cfg.Dialect, r.Raw); fix.Valid {
			p.logf("gnss fix lat=%.6f lon=%.6f attempt=%d", fix.Lat, fix.Lon, attempt)
			return fix
		}
		if attempt < maxAttempts {
			p.clk.Sleep(p.cfg.AttemptDelay)
		}
	}
	p.logf("gnss no fix after %d attempts", maxAttempts)
	return Fix{}
}

func (p *Provider) logf(format string, args ...any) {
	if p.Logf != nil {
		p.Logf(format, args...)
	}
}
