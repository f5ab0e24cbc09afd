package main

import (
	"strings"
	"testing"
	"time"

	"findme-ng/internal/clock"
	"findme-ng/internal/config"
	"findme-ng/internal/gpio"
	"findme-ng/internal/modem/modemtest"
	"findme-ng/internal/tracker"
)

const testConfig = `device:
  token: tok-1
report:
  endpoint: track.example.com
  apn: internet.itelcel.com
  active_pin: 9
  inactive_pin: 8
modem:
  power_pin: 10
`

type testRig struct {
	rt       *runtime
	port     *modemtest.Port
	clk      *clock.Fake
	power    *gpio.Memory
	active   *gpio.Memory
	inactive *gpio.Memory
}

func newTestRig(t *testing.T, port *modemtest.Port) *testRig {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	r := &testRig{
		port:     port,
		clk:      clock.NewFake(time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)),
		power:    &gpio.Memory{},
		active:   &gpio.Memory{},
		inactive: &gpio.Memory{},
	}
	rt, err := newRuntime(cfg, port, r.power, gpio.Pair{Active: r.active, Inactive: r.inactive}, r.clk)
	if err != nil {
		t.Fatalf("newRuntime() error: %v", err)
	}
	rt.setLogf(t.Logf)
	r.rt = rt
	return r
}

func healthyModem() *modemtest.Port {
	return modemtest.New().
		On("AT+CREG?", "\r\n+CREG: 0,1\r\n\r\nOK\r\n").
		On("AT+CCLK?", "\r\n+CCLK: \"24/06/30,12:00:00+00\"\r\n\r\nOK\r\n").
		On("AT+CSQ", "\r\n+CSQ: 20,99\r\n\r\nOK\r\n").
		On("AT+CGACT?", "\r\n+CGACT: 1,1\r\n\r\nOK\r\n")
}

func TestBringUp_Sequence(t *testing.T) {
	r := newTestRig(t, healthyModem())
	if err := r.rt.bringUp(); err != nil {
		t.Fatalf("bringUp() error: %v", err)
	}
	want := []string{"AT", "ATE0", "AT+CGNSSPWR=1", "AT+CREG?", "AT+CCLK?", "AT+CSQ", "AT+CGACT?"}
	if strings.Join(r.port.Sent, "|") != strings.Join(want, "|") {
		t.Fatalf("sent=%v want %v", r.port.Sent, want)
	}
	if got := r.power.Writes(); len(got) != 3 {
		t.Fatalf("power key writes=%v", got)
	}
}

func TestBringUp_DeadModemIsFatal(t *testing.T) {
	port := healthyModem().On("AT", "")
	r := newTestRig(t, port)
	if err := r.rt.bringUp(); err == nil {
		t.Fatalf("expected error")
	}
	if r.port.Count("AT+CGNSSPWR=1") != 0 {
		t.Fatalf("gnss powered despite dead modem")
	}
}

func TestBringUp_DegradedNetworkContinues(t *testing.T) {
	port := modemtest.New().
		On("AT+CREG?", "\r\n+CREG: 0,2\r\n\r\nOK\r\n").
		On("AT+CCLK?", "\r\n+CCLK: \"24/06/30,12:00:00+00\"\r\n\r\nOK\r\n").
		On("AT+CGACT?", "\r\n+CGACT: 1,0\r\n\r\nOK\r\n").
		On("AT+CGACT=1,1", "\r\nERROR\r\n")
	r := newTestRig(t, port)
	if err := r.rt.bringUp(); err != nil {
		t.Fatalf("bringUp() error: %v", err)
	}
	if got := r.port.Count("AT+CREG?"); got != 30 {
		t.Fatalf("registration polls=%d want 30", got)
	}
}

func TestRuntime_FirstFixReportsAndMirrors(t *testing.T) {
	body := `{"status":"ok","isActive":true,"id":"a1b2c3d4"}`
	port := healthyModem().
		On("AT+CGNSSINFO", "\r\n+CGNSSINFO: 2,09,05,00,08,19.432608,N,99.133209,W,300624,120000.0\r\n\r\nOK\r\n").
		On("AT+HTTPACTION=0", "\r\nOK\r\n\r\n+HTTPACTION: 0,200,47\r\n").
		On("AT+HTTPREAD=0,47", "\r\nOK\r\n\r\n+HTTPREAD: 47\r\n"+body+"\r\n+HTTPREAD: 0\r\n")
	r := newTestRig(t, port)
	if err := r.rt.bringUp(); err != nil {
		t.Fatalf("bringUp() error: %v", err)
	}

	r.rt.ctl.Step(r.clk.Now())

	snap := r.rt.ctl.Snapshot()
	if snap.State != tracker.Tracking || snap.Reports != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if r.active.Value() != 1 || r.inactive.Value() != 0 {
		t.Fatalf("status lines active=%d inactive=%d", r.active.Value(), r.inactive.Value())
	}
	wantURL := `AT+HTTPPARA="URL","https://track.example.com/api/gps/gpstracker?lat=19.432608&lon=-99.133209&token=tok-1"`
	if r.port.Count(wantURL) != 1 {
		t.Fatalf("url command not sent; sent=%v", r.port.Sent)
	}
	if r.port.Overlaps != 0 {
		t.Fatalf("overlapping commands=%d", r.port.Overlaps)
	}
}

func TestRuntime_ShutdownReleasesLines(t *testing.T) {
	r := newTestRig(t, healthyModem())
	r.rt.shutdown()
	if r.port.Last() != "AT+CGNSSPWR=0" {
		t.Fatalf("last=%q", r.port.Last())
	}
	if err := r.active.SetValue(1); err == nil {
		t.Fatalf("expected closed active line")
	}
}

func TestSummarize(t *testing.T) {
	s := tracker.Snapshot{State: tracker.AwaitingFirstFix, GNSSFailures: 2}
	if got := summarize(s); got != "state=awaiting_first_fix reports=0 report_failures=0 gnss_failures=2 gnss_restarts=0 baseline=none" {
		t.Fatalf("summarize=%q", got)
	}

	s = tracker.Snapshot{
		State:     tracker.Tracking,
		Reports:   3,
		Baseline:  tracker.Position{Lat: 19.4326, Lon: -99.1332, ReportedAt: time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC), Valid: true},
		LastError: "http status failure",
	}
	got := summarize(s)
	for _, part := range []string{"state=tracking", "reports=3", "baseline=19.432600,-99.133200", "reported_at=2024-06-30T12:00:00Z", `last_error="http status failure"`} {
		if !strings.Contains(got, part) {
			t.Fatalf("summarize=%q missing %q", got, part)
		}
	}
}
