package modem

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"

	"findme-ng/internal/clock"
)

const (
	defaultCID      = 1
	activateTimeout = 15 * time.Second
	addressSettle   = 2 * time.Second
)

type PDPState int

const (
	PDPUnknown PDPState = iota
	PDPInactive
	PDPActive
)

func (s PDPState) String() string {
	switch s {
	case PDPInactive:
		return "inactive"
	case PDPActive:
		return "active"
	default:
		return "unknown"
	}
}

// PDPContext manages packet-data context 1 on the module.
type PDPContext struct {
	port Port
	clk  clock.Clock

	CID            int
	CommandTimeout time.Duration
	Logf           func(format string, args ...any)

	addr string
}

func NewPDPContext(port Port, clk clock.Clock) *PDPContext {
	if clk == nil {
		clk = clock.System{}
	}
	return &PDPContext{
		port:           port,
		clk:            clk,
		CID:            defaultCID,
		CommandTimeout: DefaultCommandTimeout,
		Logf:           log.Printf,
	}
}

// Address is the last address the network assigned, empty before the first
// successful activation.
func (c *PDPContext) Address() string { return c.addr }

// State queries AT+CGACT?. Active requires an explicit "<cid>,1" line.
func (c *PDPContext) State() (PDPState, error) {
	r := Exchange(c.port, CmdPDPQuery, c.CommandTimeout)
	if err := r.Err(); err != nil {
		return PDPUnknown, err
	}
	return ParsePDPState(r.Raw, c.CID), nil
}

func ParsePDPState(text string, cid int) PDPState {
	want := strconv.Itoa(cid)
	for _, line := range LinesAfter(text, "+CGACT:") {
		f := Fields(line)
		if len(f) < 2 || f[0] != want {
			continue
		}
		if f[1] == "1" {
			return PDPActive
		}
	}
	return PDPInactive
}

// EnsureActive brings the context up for apn. An already active context is
// left alone.
func (c *PDPContext) EnsureActive(apn string) error {
	st, err := c.State()
	if err != nil {
		c.logf("pdp state query failed: %v", err)
	}
	if st == PDPActive {
		return nil
	}

	define := fmt.Sprintf(cmdPDPDefineFmt, c.CID, apn)
	if err := Exchange(c.port, define, c.CommandTimeout).Err(); err != nil {
		c.logf("pdp define failed apn=%s: %v", apn, err)
	}

	act := Exchange(c.port, fmt.Sprintf(cmdPDPActivateFmt, c.CID), activateTimeout)
	if err := act.Err(); err != nil {
		c.logf("pdp activate reported %v, rechecking state", err)
		st, qerr := c.State()
		if st != PDPActive {
			if qerr != nil {
				err = qerr
			}
			return errors.Annotatef(ErrPDPActivation, "cid=%d apn=%s: %v", c.CID, apn, err)
		}
	}

	c.clk.Sleep(addressSettle)
	addr, err := c.queryAddress()
	if err != nil {
		return errors.Annotatef(ErrPDPActivation, "cid=%d apn=%s: %v", c.CID, apn, err)
	}
	c.addr = addr
	c.logf("pdp active cid=%d apn=%s addr=%s", c.CID, apn, addr)
	return nil
}

func (c *PDPContext) queryAddress() (string, error) {
	r := Exchange(c.port, fmt.Sprintf(cmdPDPAddressFmt, c.CID), c.CommandTimeout)
	if err := r.Err(); err != nil {
		return "", err
	}
	line, ok := LineAfter(r.Raw, "+CGPADDR:")
	if !ok {
		return "", errors.NotValidf("address response %q", strings.TrimSpace(r.Raw))
	}
	f := Fields(line)
	if len(f) < 2 {
		return "", errors.NotValidf("address fields %q", line)
	}
	addr := unquote(f[1])
	if zeroAddress(addr) {
		return "", errors.Errorf("no address assigned (%q)", addr)
	}
	return addr, nil
}

func zeroAddress(addr string) bool {
	return strings.Trim(addr, "0.:") == ""
}

func (c *PDPContext) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}
