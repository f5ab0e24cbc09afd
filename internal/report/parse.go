package report

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"findme-ng/internal/modem"
)

const readPrefix = "+HTTPREAD:"

// ParseAction reads "+HTTPACTION: <method>,<status>,<length>".
func ParseAction(text string) (Result, error) {
	line, ok := modem.LineAfter(text, actionPrefix)
	if !ok {
		return Result{}, errors.NotValidf("http action response %q", strings.TrimSpace(text))
	}
	f := modem.Fields(line)
	if len(f) < 3 {
		return Result{}, errors.NotValidf("http action fields %q", line)
	}
	status, err := strconv.Atoi(f[1])
	if err != nil {
		return Result{}, errors.NotValidf("http status %q", f[1])
	}
	length, err := strconv.Atoi(f[2])
	if err != nil || length < 0 {
		return Result{}, errors.NotValidf("http body length %q", f[2])
	}
	return Result{StatusCode: status, BodyLength: length}, nil
}

// ExtractBody returns the bytes following the first non-empty
// "+HTTPREAD: <n>" header and whether all n have arrived.
func ExtractBody(text string) ([]byte, bool) {
	body, _, ok := splitBody(text)
	return body, ok
}

// splitBody is ExtractBody that also returns whatever followed the body.
func splitBody(text string) ([]byte, string, bool) {
	rest := text
	for {
		i := strings.Index(rest, readPrefix)
		if i < 0 {
			return nil, "", false
		}
		rest = rest[i+len(readPrefix):]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return nil, "", false
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest[:nl]))
		rest = rest[nl+1:]
		if err != nil || n <= 0 {
			continue
		}
		if len(rest) < n {
			return []byte(rest), "", false
		}
		return []byte(rest[:n]), rest[n:], true
	}
}

// ParseActive finds "isActive" in body and returns whichever literal, true
// or false, comes first after it. nil when the key is absent or carries
// neither literal.
func ParseActive(body []byte) *bool {
	i := bytes.Index(body, []byte(`"isActive"`))
	if i < 0 {
		return nil
	}
	rest := body[i:]
	t := bytes.Index(rest, []byte("true"))
	f := bytes.Index(rest, []byte("false"))
	var v bool
	switch {
	case t >= 0 && (f < 0 || t < f):
		v = true
	case f >= 0:
		v = false
	default:
		return nil
	}
	return &v
}

// Diagnose names the module-side cause of non-HTTP status codes.
func Diagnose(status int) string {
	switch status {
	case 715:
		return "tls handshake timeout or certificate rejected"
	case 703:
		return "dns resolution failed"
	case 714:
		return "http timeout"
	}
	return ""
}

// IsStatusFailure reports whether err is a non-success HTTP status.
func IsStatusFailure(err error) bool {
	return errors.Cause(err) == ErrHTTPStatus
}

// IsNetworkLost reports whether the bearer dropped mid-transaction.
func IsNetworkLost(err error) bool {
	return errors.Cause(err) == ErrNetworkLost
}
