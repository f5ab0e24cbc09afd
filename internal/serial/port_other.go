//go:build !linux

package serial

import (
	"io"
	"time"

	"github.com/tarm/serial"
)

func openPort(path string, baud int) (io.ReadWriteCloser, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        path,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
