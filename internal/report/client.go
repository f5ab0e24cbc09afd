// Package report sends one position report per call through the module's
// internal HTTP(S) engine and extracts the remote isActive flag.
package report

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"

	"findme-ng/internal/modem"
	"findme-ng/internal/serial"
)

const (
	cmdTerm   = "AT+HTTPTERM"
	cmdInit   = "AT+HTTPINIT"
	cmdCID    = `AT+HTTPPARA="CID",1`
	cmdSSL    = "AT+HTTPSSL=1"
	cmdAction = "AT+HTTPACTION=0"

	actionPrefix = "+HTTPACTION:"
	urcNoNet     = "+HTTP_NONET_EVENT"
	urcPDNDeact  = "+CGEV: NW PDN DEACT"

	defaultActionTimeout = 60 * time.Second
	bodyReadTimeout      = 10 * time.Second
	trailerTimeout       = 2 * time.Second
)

var tlsSetup = []string{
	`AT+CSSLCFG="sslversion",0,3`,
	`AT+CSSLCFG="authmode",0,0`,
	`AT+CSSLCFG="enableSNI",0,1`,
}

var actionMarkers = []string{actionPrefix, urcNoNet, urcPDNDeact, modem.TokenError}

// A7670 closes a body read with "+HTTPREAD: 0", SIM7000 with OK.
var readTrailers = []string{modem.TokenOK, "+HTTPREAD: 0", modem.TokenError}

var (
	ErrHTTPStatus  = errors.New("http status failure")
	ErrNetworkLost = errors.New("network lost during http action")
)

// PDP is the packet-data precondition of a report.
type PDP interface {
	State() (modem.PDPState, error)
	EnsureActive(apn string) error
}

type Config struct {
	// Scheme is https or http.
	Scheme   string
	Endpoint string
	Path     string
	Token    string
	APN      string

	ActionTimeout  time.Duration
	CommandTimeout time.Duration
}

type Result struct {
	StatusCode int
	BodyLength int
	Body       []byte
	// Active is nil when the body carried no isActive key.
	Active *bool
}

func (r Result) Success() bool {
	switch r.StatusCode {
	case 200, 201, 204:
		return true
	}
	return false
}

type Client struct {
	port modem.Port
	pdp  PDP
	cfg  Config

	Logf func(format string, args ...any)
}

func NewClient(port modem.Port, pdp PDP, cfg Config) *Client {
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = modem.DefaultCommandTimeout
	}
	return &Client{port: port, pdp: pdp, cfg: cfg, Logf: log.Printf}
}

// URL builds the report URL. Query order is lat, lon, token, speed.
func (c *Client) URL(lat, lon float64, speed *float64) string {
	q := []string{
		"lat=" + fmt.Sprintf("%.6f", lat),
		"lon=" + fmt.Sprintf("%.6f", lon),
		"token=" + url.QueryEscape(c.cfg.Token),
	}
	if speed != nil {
		q = append(q, "speed="+fmt.Sprintf("%.1f", *speed))
	}
	u := url.URL{
		Scheme:   c.cfg.Scheme,
		Host:     c.cfg.Endpoint,
		Path:     c.cfg.Path,
		RawQuery: strings.Join(q, "&"),
	}
	return u.String()
}

// Report runs one GET transaction. Success requires status 200, 201 or 204.
func (c *Client) Report(lat, lon float64, speed *float64) (Result, error) {
	if err := c.ensurePDP(); err != nil {
		return Result{}, err
	}

	c.exchange(cmdTerm)
	defer func() {
		if err := c.exchange(cmdTerm).Err(); err != nil {
			c.logf("report http terminate: %v", err)
		}
	}()
	if err := c.exchange(cmdInit).Err(); err != nil {
		return Result{}, errors.Annotate(err, "http init")
	}
	if err := c.exchange(cmdCID).Err(); err != nil {
		c.logf("report http cid: %v", err)
	}
	if strings.EqualFold(c.cfg.Scheme, "https") {
		c.configureTLS()
	}

	target := c.URL(lat, lon, speed)
	c.logf("report url=%s", target)
	if err := c.exchange(fmt.Sprintf(`AT+HTTPPARA="URL","%s"`, target)).Err(); err != nil {
		return Result{}, errors.Annotate(err, "http url")
	}

	res, err := c.action()
	if err != nil {
		return res, err
	}
	if !res.Success() {
		c.logf("report failed status=%d diagnosis=%q", res.StatusCode, Diagnose(res.StatusCode))
		return res, errors.Annotatef(ErrHTTPStatus, "status=%d %s", res.StatusCode, Diagnose(res.StatusCode))
	}
	if res.BodyLength > 0 {
		res.Body = c.readBody(res.BodyLength)
		res.Active = ParseActive(res.Body)
	}
	c.logf("report ok status=%d bytes=%d active=%s", res.StatusCode, res.BodyLength, activeString(res.Active))
	return res, nil
}

func (c *Client) ensurePDP() error {
	if c.pdp == nil {
		return nil
	}
	st, err := c.pdp.State()
	if err == nil && st == modem.PDPActive {
		return nil
	}
	c.logf("report pdp state=%s, reactivating", st)
	if err := c.pdp.EnsureActive(c.cfg.APN); err != nil {
		return errors.Annotate(err, "report")
	}
	return nil
}

func (c *Client) configureTLS() {
	if err := c.exchange(cmdSSL).Err(); err != nil {
		c.logf("report http ssl enable: %v", err)
	}
	for _, cmd := range tlsSetup {
		if err := c.exchange(cmd).Err(); err != nil {
			c.logf("report tls config: %v", err)
		}
	}
}

// action issues the GET and waits for its completion URC.
func (c *Client) action() (Result, error) {
	if err := c.port.Send(cmdAction); err != nil {
		return Result{}, errors.Timeoutf("%s write failed: %v", cmdAction, err)
	}
	text, marker := c.port.ReadUntil(actionMarkers, c.cfg.ActionTimeout)
	switch marker {
	case actionPrefix:
		return ParseAction(text)
	case urcNoNet, urcPDNDeact:
		return Result{}, errors.Annotatef(ErrNetworkLost, "%s", marker)
	case modem.TokenError:
		return Result{}, errors.Annotatef(modem.ErrProtocol, "%s: %q", cmdAction, strings.TrimSpace(text))
	default:
		return Result{}, errors.Timeoutf("%s (%s) completion", cmdAction, c.cfg.ActionTimeout)
	}
}

// readBody fetches the response body. Short reads are logged and whatever
// arrived is returned.
func (c *Client) readBody(n int) []byte {
	if err := c.port.Send(fmt.Sprintf("AT+HTTPREAD=0,%d", n)); err != nil {
		c.logf("report http read: %v", err)
		return nil
	}
	var (
		body []byte
		tail string
	)
	text, ok := c.port.ReadUntilFunc(func(s string) bool {
		b, rest, done := splitBody(s)
		body, tail = b, rest
		return done
	}, bodyReadTimeout)
	if !ok {
		c.logf("report http read short got=%d want=%d raw=%q", len(body), n, text)
		return body
	}
	// The trailer often arrives in the same read as the body.
	if _, seen := serial.FirstMarker(tail, readTrailers, true); !seen {
		c.port.ReadUntil(readTrailers, trailerTimeout)
	}
	return body
}

func (c *Client) exchange(cmd string) modem.Response {
	return modem.Exchange(c.port, cmd, c.cfg.CommandTimeout)
}

func (c *Client) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

func activeString(b *bool) string {
	if b == nil {
		return "unset"
	}
	if *b {
		return "true"
	}
	return "false"
}
