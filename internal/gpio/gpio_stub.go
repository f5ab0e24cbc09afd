//go:build !linux || (!arm && !arm64)

package gpio

import "fmt"

func openLine(pin int, consumer string, initial int) (Output, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform (pin %d)", pin)
}
