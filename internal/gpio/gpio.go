// Package gpio drives the digital output lines wired to the module: the
// PWRKEY input and the active/inactive status pair.
package gpio

import (
	"fmt"
	"sync"
)

// Output is a single digital output line.
type Output interface {
	SetValue(v int) error
	Close() error
}

var openFn = openLine

// Open requests pin (BCM numbering) as an output driven to initial.
// Pin 0 means "not wired" and yields a line that accepts and ignores writes.
func Open(pin int, consumer string, initial int) (Output, error) {
	if pin == 0 {
		return Nop{}, nil
	}
	if pin < 0 {
		return nil, fmt.Errorf("gpio: invalid pin %d", pin)
	}
	return openFn(pin, consumer, initial)
}

type Nop struct{}

func (Nop) SetValue(int) error { return nil }
func (Nop) Close() error       { return nil }

// Memory records writes; used by tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	value  int
	writes []int
	closed bool
}

func (m *Memory) SetValue(v int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("gpio: line closed")
	}
	m.value = v
	m.writes = append(m.writes, v)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) Value() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

func (m *Memory) Writes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.writes...)
}

// Pair mirrors a remote on/off flag onto two complementary lines.
type Pair struct {
	Active   Output
	Inactive Output
}

func (p Pair) Mirror(active bool) error {
	a, i := 0, 1
	if active {
		a, i = 1, 0
	}
	if p.Active != nil {
		if err := p.Active.SetValue(a); err != nil {
			return fmt.Errorf("gpio: active line: %w", err)
		}
	}
	if p.Inactive != nil {
		if err := p.Inactive.SetValue(i); err != nil {
			return fmt.Errorf("gpio: inactive line: %w", err)
		}
	}
	return nil
}

// Close drives both lines low and releases them.
func (p Pair) Close() error {
	var first error
	for _, o := range []Output{p.Active, p.Inactive} {
		if o == nil {
			continue
		}
		_ = o.SetValue(0)
		if err := o.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
