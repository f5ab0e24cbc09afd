// Package modem drives the cellular module's AT command interface: power
// and boot handshake, network registration, clock recovery, signal quality
// and the packet-data (PDP) context.
//
// All exchanges are strictly half-duplex. A command is written, then its
// response is read to a terminal token or a bounded timeout before anything
// else is sent.
package modem

import (
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
)

// Port is the half-duplex line channel to the module. serial.Channel
// implements it; modemtest.Port is the scripted stand-in.
type Port interface {
	Send(line string) error
	ReadUntil(markers []string, timeout time.Duration) (text string, marker string)
	ReadUntilFunc(done func(string) bool, timeout time.Duration) (text string, ok bool)
}

const (
	TokenOK    = "OK"
	TokenError = "ERROR"
)

const (
	CmdProbe            = "AT"
	CmdEchoOff          = "ATE0"
	CmdSignal           = "AT+CSQ"
	CmdRegistration     = "AT+CREG?"
	CmdEPSRegistration  = "AT+CEREG?"
	CmdClock            = "AT+CCLK?"
	CmdAutoTimeZone     = "AT+CTZU=1"
	CmdNetworkTimeStamp = "AT+CLTS=1"
	CmdSaveProfile      = "AT&W"
	CmdFullRestart      = "AT+CFUN=1,1"
	CmdPDPQuery         = "AT+CGACT?"
	cmdPDPDefineFmt     = `AT+CGDCONT=%d,"IP","%s"`
	cmdPDPActivateFmt   = "AT+CGACT=1,%d"
	cmdPDPAddressFmt    = "AT+CGPADDR=%d"
)

const DefaultCommandTimeout = 5 * time.Second

var finalTokens = []string{TokenOK, TokenError}

// Terminal records what ended a response capture.
type Terminal int

const (
	TermTimeout Terminal = iota
	TermOK
	TermError
)

func (t Terminal) String() string {
	switch t {
	case TermOK:
		return "ok"
	case TermError:
		return "error"
	default:
		return "timeout"
	}
}

// Response is one captured command response.
type Response struct {
	Command string
	Raw     string
	Term    Terminal

	timeout time.Duration
	sendErr error
}

func (r Response) OK() bool { return r.Term == TermOK }

// Err maps the terminal onto the error taxonomy. A timeout and an explicit
// ERROR both fail the exchange but stay distinguishable for diagnostics.
func (r Response) Err() error {
	switch r.Term {
	case TermOK:
		return nil
	case TermError:
		return errors.Annotatef(ErrProtocol, "%s: %s", r.Command, r.errorLine())
	default:
		if r.sendErr != nil {
			return errors.Timeoutf("%s write failed: %v", r.Command, r.sendErr)
		}
		return errors.Timeoutf("%s (%s) response", r.Command, r.timeout)
	}
}

func (r Response) errorLine() string {
	for _, line := range strings.Split(r.Raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, TokenError) {
			return line
		}
	}
	return TokenError
}

// Exchange writes cmd and reads its response up to OK/ERROR or timeout.
func Exchange(p Port, cmd string, timeout time.Duration) Response {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	r := Response{Command: cmd, timeout: timeout}
	if err := p.Send(cmd); err != nil {
		r.sendErr = err
		return r
	}
	text, marker := p.ReadUntil(finalTokens, timeout)
	r.Raw = text
	switch marker {
	case TokenOK:
		r.Term = TermOK
	case TokenError:
		r.Term = TermError
	default:
		r.Term = TermTimeout
	}
	return r
}

// LineAfter returns the rest of the first line containing prefix, trimmed.
func LineAfter(text, prefix string) (string, bool) {
	i := strings.Index(text, prefix)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(prefix):]
	if j := strings.IndexAny(rest, "\r\n"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest), true
}

// LinesAfter is LineAfter for every line carrying prefix.
func LinesAfter(text, prefix string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if rest, ok := LineAfter(line, prefix); ok {
			out = append(out, rest)
		}
	}
	return out
}

// Fields splits a response payload on commas. Order is preserved and empty
// fields are kept, so callers must check len before indexing.
func Fields(payload string) []string {
	parts := strings.Split(payload, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

// responsePrefix derives the information-response prefix of a query
// command, e.g. "AT+CREG?" -> "+CREG:".
func responsePrefix(cmd string) string {
	s := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(cmd)), "AT")
	s = strings.TrimSuffix(s, "?")
	if i := strings.IndexByte(s, '='); i >= 0 {
		s = s[:i]
	}
	return fmt.Sprintf("%s:", s)
}
