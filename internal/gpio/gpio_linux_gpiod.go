//go:build linux && (arm || arm64)

package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// openLine drives the given BCM GPIO as a digital output using the Linux
// GPIO character device.
func openLine(pin int, consumer string, initial int) (Output, error) {
	// On Pi, line names are commonly "GPIO18", etc.
	lineName := fmt.Sprintf("GPIO%d", pin)

	// Pi 5 kernels may expose the header on gpiochip4.
	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", name))
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(initial), gpiocdev.WithConsumer(consumer))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &cdevLine{chip: chip, line: line}, nil
	}

	return nil, fmt.Errorf("gpio: line %q not found (or busy)", lineName)
}

type cdevLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *cdevLine) SetValue(v int) error {
	if g == nil || g.line == nil {
		return fmt.Errorf("gpio: line not initialized")
	}
	return g.line.SetValue(v)
}

func (g *cdevLine) Close() error {
	if g == nil || g.line == nil {
		return nil
	}
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}
