package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimal = "device:\n  token: 'tok-1'\nreport:\n  endpoint: track.example.com\n  apn: internet.itelcel.com\n"

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "findme.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_RequiredFields(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "Empty", body: "", want: "device.token is required"},
		{name: "Token", body: "report:\n  endpoint: a.example\n  apn: x\n", want: "device.token is required"},
		{name: "Endpoint", body: "device:\n  token: t\nreport:\n  apn: x\n", want: "report.endpoint is required"},
		{name: "APN", body: "device:\n  token: t\nreport:\n  endpoint: a.example\n", want: "report.apn is required"},
		{name: "BlankToken", body: "device:\n  token: '  '\nreport:\n  endpoint: a.example\n  apn: x\n", want: "device.token is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.body))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Serial.Device != "/dev/ttyS0" || cfg.Serial.Baud != 115200 {
		t.Fatalf("serial=%+v", cfg.Serial)
	}
	if cfg.Modem.BootWait != 10*time.Second || cfg.Modem.CommandTimeout != 5*time.Second {
		t.Fatalf("modem timings=%+v", cfg.Modem)
	}
	if cfg.Modem.HandshakeAttempts != 3 || cfg.Modem.RegistrationAttempts != 30 {
		t.Fatalf("modem attempts=%+v", cfg.Modem)
	}
	if cfg.Modem.RegistrationCommand != "AT+CREG?" || cfg.Modem.RestartSettle != 25*time.Second || cfg.Modem.ClockMinYear != 20 {
		t.Fatalf("modem=%+v", cfg.Modem)
	}
	if cfg.GNSS.Dialect != "a7670" || cfg.GNSS.FixAttempts != 20 || cfg.GNSS.AttemptDelay != time.Second {
		t.Fatalf("gnss=%+v", cfg.GNSS)
	}
	if cfg.Report.Scheme != "https" || cfg.Report.Path != "/api/gps/gpstracker" || cfg.Report.ActionTimeout != time.Minute {
		t.Fatalf("report=%+v", cfg.Report)
	}
	if cfg.Tracker.MovementThresholdM != 25 || cfg.Tracker.PollInterval != 20*time.Second ||
		cfg.Tracker.HeartbeatInterval != 5*time.Minute || cfg.Tracker.MaxGNSSFailures != 5 {
		t.Fatalf("tracker=%+v", cfg.Tracker)
	}
}

func TestLoad_FullDocument(t *testing.T) {
	body := `device:
  token: abc
serial:
  device: /dev/ttyUSB2
  baud: 57600
modem:
  power_pin: 10
  boot_wait: 12s
  registration_command: at+cereg?
  clock_min_year: 24
gnss:
  dialect: SIM7000
  fix_attempts: 5
  attempt_delay: 2s
report:
  scheme: http
  endpoint: 10.0.0.1:8080
  path: /t
  apn: m2m.example
  active_pin: 9
  inactive_pin: 8
tracker:
  movement_threshold_m: 50
  poll_interval: 30s
  heartbeat_interval: 10m
`
	cfg, err := Load(writeTempConfig(t, body))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Serial.Device != "/dev/ttyUSB2" || cfg.Serial.Baud != 57600 {
		t.Fatalf("serial=%+v", cfg.Serial)
	}
	if cfg.Modem.PowerPin != 10 || cfg.Modem.BootWait != 12*time.Second || cfg.Modem.RegistrationCommand != "AT+CEREG?" {
		t.Fatalf("modem=%+v", cfg.Modem)
	}
	if cfg.GNSS.Dialect != "sim7000" || cfg.GNSS.AttemptDelay != 2*time.Second {
		t.Fatalf("gnss=%+v", cfg.GNSS)
	}
	if cfg.Report.Scheme != "http" || cfg.Report.ActivePin != 9 || cfg.Report.InactivePin != 8 {
		t.Fatalf("report=%+v", cfg.Report)
	}
	if cfg.Tracker.HeartbeatInterval != 10*time.Minute || cfg.Tracker.MovementThresholdM != 50 {
		t.Fatalf("tracker=%+v", cfg.Tracker)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name  string
		extra string
		want  string
	}{
		{
			name:  "Baud",
			extra: "serial:\n  baud: 4800\n",
			want:  "serial.baud must be one of 9600, 19200, 38400, 57600, 115200",
		},
		{
			name:  "RegistrationCommand",
			extra: "modem:\n  registration_command: AT+CGREG?\n",
			want:  "modem.registration_command must be 'AT+CREG?' or 'AT+CEREG?'",
		},
		{
			name:  "Dialect",
			extra: "gnss:\n  dialect: ublox\n",
			want:  "gnss.dialect must be 'a7670' or 'sim7000'",
		},
		{
			name:  "NegativePin",
			extra: "modem:\n  power_pin: -1\n",
			want:  "modem.power_pin must be >= 0",
		},
		{
			name:  "NegativeDuration",
			extra: "modem:\n  boot_wait: -1s\n",
			want:  "modem.boot_wait must be > 0",
		},
		{
			name:  "HeartbeatShorterThanPoll",
			extra: "tracker:\n  poll_interval: 1m\n  heartbeat_interval: 30s\n",
			want:  "tracker.heartbeat_interval must be >= tracker.poll_interval",
		},
		{
			name:  "FirstInvalidFieldWins",
			extra: "modem:\n  power_pin: -1\n  boot_wait: -1s\n  handshake_attempts: -2\n",
			want:  "modem.power_pin must be >= 0",
		},
		{
			name:  "FirstInvalidDurationWins",
			extra: "modem:\n  restart_settle: -1s\ntracker:\n  poll_interval: -1s\n",
			want:  "modem.restart_settle must be > 0",
		},
		{
			name:  "ClockYear",
			extra: "modem:\n  clock_min_year: 2024\n",
			want:  "modem.clock_min_year must be between 0 and 99",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, minimal+tc.extra))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_ReportValidation(t *testing.T) {
	cases := []struct {
		name   string
		report string
		want   string
	}{
		{
			name:   "EndpointWithScheme",
			report: "  endpoint: https://track.example.com\n  apn: x\n",
			want:   "report.endpoint must be a host without scheme",
		},
		{
			name:   "Path",
			report: "  endpoint: a.example\n  apn: x\n  path: api\n",
			want:   "report.path must start with '/'",
		},
		{
			name:   "Scheme",
			report: "  endpoint: a.example\n  apn: x\n  scheme: ftp\n",
			want:   "report.scheme must be 'https' or 'http'",
		},
		{
			name:   "APNQuote",
			report: "  endpoint: a.example\n  apn: 'in\"ternet'\n",
			want:   "report.apn must not contain quotes, commas or line breaks",
		},
		{
			name:   "SamePins",
			report: "  endpoint: a.example\n  apn: x\n  active_pin: 5\n  inactive_pin: 5\n",
			want:   "report.active_pin and report.inactive_pin must differ",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := "device:\n  token: t\nreport:\n" + tc.report
			_, err := Load(writeTempConfig(t, body))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	path := writeTempConfig(t, minimal+"tracker:\n  mode: sms\n")
	_, err := Load(path)
	requireErrEq(t, err, "config contains unknown fields: field mode not found in type config.TrackerConfig")
}

func TestLoad_RejectsMistypedValue(t *testing.T) {
	path := writeTempConfig(t, minimal+"serial:\n  baud: fast\n")
	_, err := Load(path)
	requireErrEq(t, err, "config contains invalid values: cannot unmarshal !!str `fast` into int")
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
