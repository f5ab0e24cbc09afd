package modem

import (
	"github.com/juju/errors"
)

var (
	// ErrProtocol is an explicit ERROR (or +CME ERROR) from the module.
	ErrProtocol      = errors.New("modem protocol error")
	ErrNotRegistered = errors.New("modem not registered on network")
	ErrClockInvalid  = errors.New("modem clock invalid")
	ErrPDPActivation = errors.New("pdp context activation failed")
)

// IsTimeout reports whether err came from an exchange that saw no terminal
// token before its deadline.
func IsTimeout(err error) bool {
	return errors.IsTimeout(err)
}

// IsMalformed reports whether err came from a response whose shape did not
// parse.
func IsMalformed(err error) bool {
	return errors.IsNotValid(err)
}

// IsProtocol reports whether err carries ErrProtocol.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol) || errors.Cause(err) == ErrProtocol
}
