// Package tracker is the reporting state machine: it polls GNSS, decides
// when to report, and mirrors the remote flag onto the status outputs.
package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"findme-ng/internal/clock"
	"findme-ng/internal/gnss"
	"findme-ng/internal/report"
)

type State int

const (
	AwaitingFirstFix State = iota
	Tracking
)

func (s State) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "awaiting_first_fix"
}

type FixSource interface {
	AcquireFix(maxAttempts int) gnss.Fix
	Restart() error
}

type Reporter interface {
	Report(lat, lon float64, speed *float64) (report.Result, error)
}

type Signals interface {
	Mirror(active bool) error
}

// Position is the last successfully reported location.
type Position struct {
	Lat        float64
	Lon        float64
	ReportedAt time.Time
	Valid      bool
}

type Config struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	FixAttempts       int
	MaxGNSSFailures   int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 20 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Minute
	}
	if c.FixAttempts <= 0 {
		c.FixAttempts = 20
	}
	if c.MaxGNSSFailures <= 0 {
		c.MaxGNSSFailures = 5
	}
	return c
}

type Snapshot struct {
	State          State
	Baseline       Position
	LastFix        gnss.Fix
	GNSSFailures   int
	GNSSRestarts   int
	Reports        int
	ReportFailures int
	NextPoll       time.Time
	HeartbeatDue   time.Time
	LastError      string
}

type Controller struct {
	cfg      Config
	fixes    FixSource
	reporter Reporter
	signals  Signals
	trigger  Trigger
	clk      clock.Clock

	Logf func(format string, args ...any)

	mu             sync.Mutex
	started        bool
	state          State
	baseline       Position
	last           gnss.Fix
	nextPoll       time.Time
	heartbeatStart time.Time
	failures       int
	restarts       int
	reports        int
	reportFailures int
	lastErr        error
}

func New(cfg Config, fixes FixSource, reporter Reporter, signals Signals, trigger Trigger, clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.System{}
	}
	if trigger == nil {
		trigger = MotionTrigger{ThresholdM: 25}
	}
	return &Controller{
		cfg:      cfg.withDefaults(),
		fixes:    fixes,
		reporter: reporter,
		signals:  signals,
		trigger:  trigger,
		clk:      clk,
		Logf:     log.Printf,
	}
}

// Run steps the controller every tick until ctx is done. afterStep, if set,
// runs after each step.
func (c *Controller) Run(ctx context.Context, tick time.Duration, afterStep func()) error {
	if tick <= 0 {
		tick = time.Second
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		c.Step(c.clk.Now())
		if afterStep != nil {
			afterStep()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Step runs whatever is due at now: a fix poll, a heartbeat, or nothing.
func (c *Controller) Step(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		c.started = true
		c.nextPoll = now
		c.heartbeatStart = now
	}
	reported := false
	if !now.Before(c.nextPoll) {
		c.nextPoll = now.Add(c.cfg.PollInterval)
		reported = c.poll(now)
	}
	if now.Sub(c.heartbeatStart) >= c.cfg.HeartbeatInterval {
		// At most one report per step.
		if reported {
			c.heartbeatStart = now
		} else {
			c.heartbeat(now)
		}
	}
}

// poll reads a fix and reports it if due. It returns whether a report was
// attempted.
func (c *Controller) poll(now time.Time) bool {
	fix := c.fixes.AcquireFix(c.cfg.FixAttempts)
	if !fix.Valid {
		c.failures++
		c.logf("tracker no fix failures=%d/%d", c.failures, c.cfg.MaxGNSSFailures)
		if c.failures >= c.cfg.MaxGNSSFailures {
			c.restarts++
			c.logf("tracker restarting gnss restarts=%d", c.restarts)
			if err := c.fixes.Restart(); err != nil {
				c.logf("tracker gnss restart: %v", err)
			}
			c.failures = 0
		}
		return false
	}
	c.failures = 0
	c.last = fix

	if c.state == AwaitingFirstFix {
		c.state = Tracking
		c.logf("tracker first fix lat=%.6f lon=%.6f", fix.Lat, fix.Lon)
		c.report(now, fix, nil)
		return true
	}
	if ok, speed := c.trigger.OnFix(c.baseline, fix, now); ok {
		c.report(now, fix, speed)
		return true
	}
	return false
}

func (c *Controller) heartbeat(now time.Time) {
	c.heartbeatStart = now
	if c.state != Tracking {
		return
	}
	if !c.trigger.OnHeartbeat(c.baseline, c.last) {
		c.logf("tracker heartbeat no movement")
		return
	}
	c.logf("tracker heartbeat report")
	c.report(now, c.last, nil)
}

func (c *Controller) report(now time.Time, fix gnss.Fix, speed *float64) {
	res, err := c.reporter.Report(fix.Lat, fix.Lon, speed)
	if err == nil && !res.Success() {
		err = report.ErrHTTPStatus
	}
	if err != nil {
		c.reportFailures++
		c.lastErr = err
		c.logf("tracker report failed lat=%.6f lon=%.6f: %v", fix.Lat, fix.Lon, err)
		return
	}
	c.reports++
	c.lastErr = nil
	c.baseline = Position{Lat: fix.Lat, Lon: fix.Lon, ReportedAt: now, Valid: true}
	c.heartbeatStart = now
	if res.Active != nil && c.signals != nil {
		if err := c.signals.Mirror(*res.Active); err != nil {
			c.logf("tracker status outputs: %v", err)
		}
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:          c.state,
		Baseline:       c.baseline,
		LastFix:        c.last,
		GNSSFailures:   c.failures,
		GNSSRestarts:   c.restarts,
		Reports:        c.reports,
		ReportFailures: c.reportFailures,
		NextPoll:       c.nextPoll,
		HeartbeatDue:   c.heartbeatStart.Add(c.cfg.HeartbeatInterval),
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Controller) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}
