package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"findme-ng/internal/modem"
)

type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Serial  SerialConfig  `yaml:"serial"`
	Modem   ModemConfig   `yaml:"modem"`
	GNSS    GNSSConfig    `yaml:"gnss"`
	Report  ReportConfig  `yaml:"report"`
	Tracker TrackerConfig `yaml:"tracker"`
}

type DeviceConfig struct {
	Token string `yaml:"token"`
}

type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type ModemConfig struct {
	PowerPin             int           `yaml:"power_pin"`
	BootWait             time.Duration `yaml:"boot_wait"`
	CommandTimeout       time.Duration `yaml:"command_timeout"`
	HandshakeAttempts    int           `yaml:"handshake_attempts"`
	RegistrationAttempts int           `yaml:"registration_attempts"`
	RegistrationCommand  string        `yaml:"registration_command"`
	RestartSettle        time.Duration `yaml:"restart_settle"`
	ClockMinYear         int           `yaml:"clock_min_year"`
}

type GNSSConfig struct {
	Dialect      string        `yaml:"dialect"`
	FixAttempts  int           `yaml:"fix_attempts"`
	AttemptDelay time.Duration `yaml:"attempt_delay"`
}

type ReportConfig struct {
	Scheme        string        `yaml:"scheme"`
	Endpoint      string        `yaml:"endpoint"`
	Path          string        `yaml:"path"`
	APN           string        `yaml:"apn"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
	ActivePin     int           `yaml:"active_pin"`
	InactivePin   int           `yaml:"inactive_pin"`
}

type TrackerConfig struct {
	MovementThresholdM float64       `yaml:"movement_threshold_m"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	MaxGNSSFailures    int           `yaml:"max_gnss_failures"`
}

var typeErrLine = regexp.MustCompile(`^line \d+: `)

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return Config{}, unknownFieldsError(te)
		}
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func unknownFieldsError(te *yaml.TypeError) error {
	msgs := make([]string, 0, len(te.Errors))
	unknown := true
	for _, e := range te.Errors {
		msg := typeErrLine.ReplaceAllString(e, "")
		if !strings.Contains(msg, "not found in type") {
			unknown = false
		}
		msgs = append(msgs, msg)
	}
	if !unknown {
		return fmt.Errorf("config contains invalid values: %s", strings.Join(msgs, "; "))
	}
	return fmt.Errorf("config contains unknown fields: %s", strings.Join(msgs, "; "))
}

func (cfg *Config) applyDefaults() {
	cfg.Device.Token = strings.TrimSpace(cfg.Device.Token)

	if strings.TrimSpace(cfg.Serial.Device) == "" {
		cfg.Serial.Device = "/dev/ttyS0"
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}

	m := &cfg.Modem
	if m.BootWait == 0 {
		m.BootWait = 10 * time.Second
	}
	if m.CommandTimeout == 0 {
		m.CommandTimeout = 5 * time.Second
	}
	if m.HandshakeAttempts == 0 {
		m.HandshakeAttempts = 3
	}
	if m.RegistrationAttempts == 0 {
		m.RegistrationAttempts = 30
	}
	m.RegistrationCommand = strings.ToUpper(strings.TrimSpace(m.RegistrationCommand))
	if m.RegistrationCommand == "" {
		m.RegistrationCommand = modem.CmdRegistration
	}
	if m.RestartSettle == 0 {
		m.RestartSettle = 25 * time.Second
	}
	if m.ClockMinYear == 0 {
		m.ClockMinYear = 20
	}

	g := &cfg.GNSS
	g.Dialect = strings.ToLower(strings.TrimSpace(g.Dialect))
	if g.Dialect == "" {
		g.Dialect = "a7670"
	}
	if g.FixAttempts == 0 {
		g.FixAttempts = 20
	}
	if g.AttemptDelay == 0 {
		g.AttemptDelay = time.Second
	}

	r := &cfg.Report
	r.Scheme = strings.ToLower(strings.TrimSpace(r.Scheme))
	if r.Scheme == "" {
		r.Scheme = "https"
	}
	r.Endpoint = strings.TrimSpace(r.Endpoint)
	r.APN = strings.TrimSpace(r.APN)
	if r.Path == "" {
		r.Path = "/api/gps/gpstracker"
	}
	if r.ActionTimeout == 0 {
		r.ActionTimeout = 60 * time.Second
	}

	tr := &cfg.Tracker
	if tr.MovementThresholdM == 0 {
		tr.MovementThresholdM = 25
	}
	if tr.PollInterval == 0 {
		tr.PollInterval = 20 * time.Second
	}
	if tr.HeartbeatInterval == 0 {
		tr.HeartbeatInterval = 5 * time.Minute
	}
	if tr.MaxGNSSFailures == 0 {
		tr.MaxGNSSFailures = 5
	}
}

func (cfg *Config) validate() error {
	if cfg.Device.Token == "" {
		return fmt.Errorf("device.token is required")
	}
	if cfg.Report.Endpoint == "" {
		return fmt.Errorf("report.endpoint is required")
	}
	if cfg.Report.APN == "" {
		return fmt.Errorf("report.apn is required")
	}
	if strings.Contains(cfg.Report.Endpoint, "://") {
		return fmt.Errorf("report.endpoint must be a host without scheme")
	}
	if !strings.HasPrefix(cfg.Report.Path, "/") {
		return fmt.Errorf("report.path must start with '/'")
	}
	if cfg.Report.Scheme != "https" && cfg.Report.Scheme != "http" {
		return fmt.Errorf("report.scheme must be 'https' or 'http'")
	}
	if strings.ContainsAny(cfg.Report.APN, "\",\r\n") {
		return fmt.Errorf("report.apn must not contain quotes, commas or line breaks")
	}

	switch cfg.Serial.Baud {
	case 9600, 19200, 38400, 57600, 115200:
	default:
		return fmt.Errorf("serial.baud must be one of 9600, 19200, 38400, 57600, 115200")
	}

	switch cfg.Modem.RegistrationCommand {
	case modem.CmdRegistration, modem.CmdEPSRegistration:
	default:
		return fmt.Errorf("modem.registration_command must be 'AT+CREG?' or 'AT+CEREG?'")
	}
	if cfg.Modem.ClockMinYear < 0 || cfg.Modem.ClockMinYear > 99 {
		return fmt.Errorf("modem.clock_min_year must be between 0 and 99")
	}

	switch cfg.GNSS.Dialect {
	case "a7670", "sim7000", "sim7600":
	default:
		return fmt.Errorf("gnss.dialect must be 'a7670' or 'sim7000'")
	}

	pins := []struct {
		name string
		v    int
	}{
		{"modem.power_pin", cfg.Modem.PowerPin},
		{"report.active_pin", cfg.Report.ActivePin},
		{"report.inactive_pin", cfg.Report.InactivePin},
	}
	for _, p := range pins {
		if p.v < 0 {
			return fmt.Errorf("%s must be >= 0", p.name)
		}
	}
	if cfg.Report.ActivePin != 0 && cfg.Report.ActivePin == cfg.Report.InactivePin {
		return fmt.Errorf("report.active_pin and report.inactive_pin must differ")
	}

	durations := []struct {
		name string
		v    time.Duration
	}{
		{"modem.boot_wait", cfg.Modem.BootWait},
		{"modem.command_timeout", cfg.Modem.CommandTimeout},
		{"modem.restart_settle", cfg.Modem.RestartSettle},
		{"gnss.attempt_delay", cfg.GNSS.AttemptDelay},
		{"report.action_timeout", cfg.Report.ActionTimeout},
		{"tracker.poll_interval", cfg.Tracker.PollInterval},
		{"tracker.heartbeat_interval", cfg.Tracker.HeartbeatInterval},
	}
	for _, d := range durations {
		if d.v < 0 {
			return fmt.Errorf("%s must be > 0", d.name)
		}
	}
	counts := []struct {
		name string
		v    int
	}{
		{"modem.handshake_attempts", cfg.Modem.HandshakeAttempts},
		{"modem.registration_attempts", cfg.Modem.RegistrationAttempts},
		{"gnss.fix_attempts", cfg.GNSS.FixAttempts},
		{"tracker.max_gnss_failures", cfg.Tracker.MaxGNSSFailures},
	}
	for _, n := range counts {
		if n.v < 0 {
			return fmt.Errorf("%s must be > 0", n.name)
		}
	}
	if cfg.Tracker.MovementThresholdM < 0 {
		return fmt.Errorf("tracker.movement_threshold_m must be > 0")
	}
	if cfg.Tracker.HeartbeatInterval < cfg.Tracker.PollInterval {
		return fmt.Errorf("tracker.heartbeat_interval must be >= tracker.poll_interval")
	}
	return nil
}
