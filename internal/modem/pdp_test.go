package modem_test

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"findme-ng/internal/clock"
	"findme-ng/internal/modem"
	"findme-ng/internal/modem/modemtest"
)

const apn = "internet.itelcel.com"

func newPDP(t *testing.T, port *modemtest.Port) (*modem.PDPContext, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	c := modem.NewPDPContext(port, clk)
	c.Logf = t.Logf
	return c, clk
}

func TestPDP_EnsureActiveIdempotent(t *testing.T) {
	port := modemtest.New().On("AT+CGACT?", "\r\n+CGACT: 1,1\r\n\r\nOK\r\n")
	c, _ := newPDP(t, port)

	require.NoError(t, c.EnsureActive(apn))
	require.NoError(t, c.EnsureActive(apn))

	assert.Equal(t, []string{"AT+CGACT?", "AT+CGACT?"}, port.Sent)
	assert.Zero(t, port.Count("AT+CGACT=1,1"))
}

func TestPDP_EnsureActiveBringsUpContext(t *testing.T) {
	port := modemtest.New().
		On("AT+CGACT?", "\r\n+CGACT: 1,0\r\n\r\nOK\r\n").
		On("AT+CGPADDR=1", "\r\n+CGPADDR: 1,10.64.12.7\r\n\r\nOK\r\n")
	c, clk := newPDP(t, port)

	require.NoError(t, c.EnsureActive(apn))
	assert.Equal(t, []string{
		"AT+CGACT?",
		`AT+CGDCONT=1,"IP","internet.itelcel.com"`,
		"AT+CGACT=1,1",
		"AT+CGPADDR=1",
	}, port.Sent)
	assert.Equal(t, "10.64.12.7", c.Address())
	assert.Equal(t, 2*time.Second, clk.Slept())
}

func TestPDP_ActivateErrorButContextUp(t *testing.T) {
	port := modemtest.New().
		On("AT+CGACT?",
			"\r\n+CGACT: 1,0\r\n\r\nOK\r\n",
			"\r\n+CGACT: 1,1\r\n\r\nOK\r\n",
		).
		On("AT+CGACT=1,1", "\r\nERROR\r\n").
		On("AT+CGPADDR=1", "\r\n+CGPADDR: 1,\"10.0.0.9\"\r\n\r\nOK\r\n")
	c, _ := newPDP(t, port)

	require.NoError(t, c.EnsureActive(apn))
	assert.Equal(t, 2, port.Count("AT+CGACT?"))
	assert.Equal(t, "10.0.0.9", c.Address())
}

func TestPDP_ActivateErrorAndStillDown(t *testing.T) {
	port := modemtest.New().
		On("AT+CGACT?", "\r\n+CGACT: 1,0\r\n\r\nOK\r\n").
		On("AT+CGACT=1,1", "")
	c, _ := newPDP(t, port)

	err := c.EnsureActive(apn)
	require.Error(t, err)
	assert.Equal(t, modem.ErrPDPActivation, errors.Cause(err))
	assert.Zero(t, port.Count("AT+CGPADDR=1"))
}

func TestPDP_ZeroAddressFails(t *testing.T) {
	port := modemtest.New().
		On("AT+CGACT?", "\r\n+CGACT: 1,0\r\n\r\nOK\r\n").
		On("AT+CGPADDR=1", "\r\n+CGPADDR: 1,0.0.0.0\r\n\r\nOK\r\n")
	c, _ := newPDP(t, port)

	err := c.EnsureActive(apn)
	require.Error(t, err)
	assert.Equal(t, modem.ErrPDPActivation, errors.Cause(err))
	assert.Empty(t, c.Address())
}

func TestParsePDPState(t *testing.T) {
	cases := []struct {
		in   string
		want modem.PDPState
	}{
		{"\r\n+CGACT: 1,1\r\n\r\nOK\r\n", modem.PDPActive},
		{"\r\n+CGACT: 1,0\r\n+CGACT: 2,1\r\n\r\nOK\r\n", modem.PDPInactive},
		{"\r\n+CGACT: 2,0\r\n+CGACT: 1,1\r\n\r\nOK\r\n", modem.PDPActive},
		{"\r\nOK\r\n", modem.PDPInactive},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, modem.ParsePDPState(tc.in, 1), "input %q", tc.in)
	}
}

func TestPDP_StateQueryError(t *testing.T) {
	port := modemtest.New().On("AT+CGACT?", "\r\nERROR\r\n")
	c, _ := newPDP(t, port)

	st, err := c.State()
	require.Error(t, err)
	assert.Equal(t, modem.PDPUnknown, st)
}
