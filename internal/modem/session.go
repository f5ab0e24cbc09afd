package modem

import (
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"

	"findme-ng/internal/clock"
	"findme-ng/internal/gpio"
)

const (
	pulseLow          = 100 * time.Millisecond
	pulseHigh         = 2 * time.Second
	handshakeBackoff  = 2 * time.Second
	handshakeMaxDelay = 16 * time.Second
	registrationDelay = 2 * time.Second
	restartTimeout    = 10 * time.Second
)

type Config struct {
	BootWait             time.Duration
	CommandTimeout       time.Duration
	HandshakeAttempts    int
	RegistrationAttempts int
	// RegistrationCommand is AT+CREG? or AT+CEREG?.
	RegistrationCommand string
	RestartSettle       time.Duration
	// ClockMinYear is the lowest two-digit year accepted as network time.
	ClockMinYear int
}

func (c Config) withDefaults() Config {
	if c.BootWait <= 0 {
		c.BootWait = 10 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.HandshakeAttempts <= 0 {
		c.HandshakeAttempts = 3
	}
	if c.RegistrationAttempts <= 0 {
		c.RegistrationAttempts = 30
	}
	if strings.TrimSpace(c.RegistrationCommand) == "" {
		c.RegistrationCommand = CmdRegistration
	}
	if c.RestartSettle <= 0 {
		c.RestartSettle = 25 * time.Second
	}
	if c.ClockMinYear <= 0 {
		c.ClockMinYear = 20
	}
	return c
}

type RegistrationState int

const (
	RegUnknown RegistrationState = iota
	RegNotRegistered
	RegHome
	RegRoaming
)

func (s RegistrationState) String() string {
	switch s {
	case RegNotRegistered:
		return "not_registered"
	case RegHome:
		return "home"
	case RegRoaming:
		return "roaming"
	default:
		return "unknown"
	}
}

func (s RegistrationState) Registered() bool {
	return s == RegHome || s == RegRoaming
}

type ClockStatus struct {
	Valid bool
	Year  int
	Raw   string
}

type Signal struct {
	RSSI int
	BER  int
	// DBM is only meaningful when Known is set.
	DBM   int
	Known bool
}

// Session owns the module's power key and the command channel. One Session
// exists per process.
type Session struct {
	port  Port
	power gpio.Output
	clk   clock.Clock
	cfg   Config

	Logf func(format string, args ...any)

	powered bool
}

func NewSession(port Port, power gpio.Output, clk clock.Clock, cfg Config) *Session {
	if power == nil {
		power = gpio.Nop{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Session{
		port:  port,
		power: power,
		clk:   clk,
		cfg:   cfg.withDefaults(),
		Logf:  log.Printf,
	}
}

// Port returns the command channel for collaborators that issue their own
// exchanges (GNSS, HTTP engine).
func (s *Session) Port() Port { return s.port }

// PowerOn pulses PWRKEY and waits for boot. Later calls do nothing.
func (s *Session) PowerOn() error {
	if s.powered {
		return nil
	}
	s.powered = true
	steps := []struct {
		v    int
		hold time.Duration
	}{
		{0, pulseLow},
		{1, pulseHigh},
		{0, 0},
	}
	for _, st := range steps {
		if err := s.power.SetValue(st.v); err != nil {
			return errors.Annotatef(err, "modem power key value=%d", st.v)
		}
		s.clk.Sleep(st.hold)
	}
	s.logf("modem power pulse sent boot_wait=%s", s.cfg.BootWait)
	s.clk.Sleep(s.cfg.BootWait)
	return nil
}

// Handshake probes with AT until OK, backing off between attempts, then
// turns echo off.
func (s *Session) Handshake(maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.HandshakeAttempts
	}
	delay := handshakeBackoff
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r := s.exchange(CmdProbe)
		if r.OK() {
			s.logf("modem responding attempt=%d", attempt)
			if err := s.exchange(CmdEchoOff).Err(); err != nil {
				s.logf("modem echo off failed: %v", err)
			}
			return nil
		}
		last = r.Err()
		s.logf("modem probe failed attempt=%d/%d: %v", attempt, maxAttempts, last)
		if attempt < maxAttempts {
			s.clk.Sleep(delay)
			delay *= 2
			if delay > handshakeMaxDelay {
				delay = handshakeMaxDelay
			}
		}
	}
	return errors.Annotatef(last, "modem handshake failed after %d attempts", maxAttempts)
}

// WaitForRegistration polls the registration query until home or roaming.
func (s *Session) WaitForRegistration(maxAttempts int) (RegistrationState, error) {
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.RegistrationAttempts
	}
	cmd := s.cfg.RegistrationCommand
	prefix := responsePrefix(cmd)
	state := RegUnknown
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r := s.exchange(cmd)
		if err := r.Err(); err != nil {
			s.logf("modem registration query failed attempt=%d: %v", attempt, err)
			state = RegUnknown
		} else {
			state = ParseRegistration(r.Raw, prefix)
		}
		if state.Registered() {
			s.logf("modem registered state=%s attempt=%d", state, attempt)
			return state, nil
		}
		if attempt < maxAttempts {
			s.clk.Sleep(registrationDelay)
		}
	}
	return state, errors.Annotatef(ErrNotRegistered, "state=%s after %d attempts", state, maxAttempts)
}

// ParseRegistration reads <stat> from a +CREG:/+CEREG: line. A query reply
// carries "<n>,<stat>[,...]"; an unsolicited one carries "<stat>" alone.
// The last query reply wins over any unsolicited line buffered before it.
func ParseRegistration(text, prefix string) RegistrationState {
	var stat string
	for _, line := range LinesAfter(text, prefix) {
		if line == "" {
			continue
		}
		f := Fields(line)
		if len(f) >= 2 {
			stat = f[1]
		} else if stat == "" {
			stat = f[0]
		}
	}
	if stat == "" {
		return RegUnknown
	}
	n, err := strconv.Atoi(stat)
	if err != nil {
		return RegUnknown
	}
	switch n {
	case 1:
		return RegHome
	case 5:
		return RegRoaming
	default:
		return RegNotRegistered
	}
}

func (s *Session) QueryClock() ClockStatus {
	r := s.exchange(CmdClock)
	if err := r.Err(); err != nil {
		s.logf("modem clock query failed: %v", err)
		return ClockStatus{Raw: r.Raw}
	}
	return ParseClock(r.Raw, s.cfg.ClockMinYear)
}

// ParseClock classifies a +CCLK: "yy/MM/dd,hh:mm:ss±zz" reply.
func ParseClock(text string, minYear int) ClockStatus {
	st := ClockStatus{Raw: text}
	line, ok := LineAfter(text, "+CCLK:")
	if !ok {
		return st
	}
	v := unquote(line)
	slash := strings.IndexByte(v, '/')
	if slash != 2 {
		return st
	}
	year, err := strconv.Atoi(v[:slash])
	if err != nil {
		return st
	}
	st.Year = year
	st.Valid = year >= minYear
	return st
}

// EnsureValidClock runs one recovery when the clock is invalid: enable
// network time, persist, full restart, re-handshake, re-register and
// re-query.
func (s *Session) EnsureValidClock() (ClockStatus, error) {
	st := s.QueryClock()
	if st.Valid {
		s.logf("modem clock valid year=%02d", st.Year)
		return st, nil
	}
	s.logf("modem clock invalid year=%02d raw=%q, restarting with network time", st.Year, strings.TrimSpace(st.Raw))

	for _, cmd := range []string{CmdAutoTimeZone, CmdNetworkTimeStamp, CmdSaveProfile} {
		if err := s.exchange(cmd).Err(); err != nil {
			s.logf("modem clock setup command failed: %v", err)
		}
	}
	if err := Exchange(s.port, CmdFullRestart, restartTimeout).Err(); err != nil {
		s.logf("modem restart command: %v", err)
	}
	s.clk.Sleep(s.cfg.RestartSettle)

	if err := s.Handshake(s.cfg.HandshakeAttempts); err != nil {
		s.logf("modem not responding after restart: %v", err)
	}
	if _, err := s.WaitForRegistration(s.cfg.RegistrationAttempts); err != nil {
		s.logf("modem registration after restart: %v", err)
	}

	st = s.QueryClock()
	if !st.Valid {
		return st, errors.Annotatef(ErrClockInvalid, "year=%02d after restart", st.Year)
	}
	s.logf("modem clock recovered year=%02d", st.Year)
	return st, nil
}

// SignalQuality reads AT+CSQ. rssi 99 means not known.
func (s *Session) SignalQuality() (Signal, error) {
	r := s.exchange(CmdSignal)
	if err := r.Err(); err != nil {
		return Signal{}, err
	}
	return ParseSignal(r.Raw)
}

func ParseSignal(text string) (Signal, error) {
	line, ok := LineAfter(text, "+CSQ:")
	if !ok {
		return Signal{}, errors.NotValidf("signal response %q", strings.TrimSpace(text))
	}
	f := Fields(line)
	if len(f) < 2 {
		return Signal{}, errors.NotValidf("signal fields %q", line)
	}
	rssi, err := strconv.Atoi(f[0])
	if err != nil {
		return Signal{}, errors.NotValidf("signal rssi %q", f[0])
	}
	ber, err := strconv.Atoi(f[1])
	if err != nil {
		return Signal{}, errors.NotValidf("signal ber %q", f[1])
	}
	sig := Signal{RSSI: rssi, BER: ber}
	if rssi >= 0 && rssi <= 31 {
		sig.DBM = -113 + 2*rssi
		sig.Known = true
	}
	return sig, nil
}

func (s *Session) exchange(cmd string) Response {
	return Exchange(s.port, cmd, s.cfg.CommandTimeout)
}

func (s *Session) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}
