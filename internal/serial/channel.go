// Package serial is the byte channel to the cellular module.
//
// The link is half-duplex: a command's response must be read to a terminal
// marker (or timeout) before the next command is written. Channel enforces
// the second half of that rule by draining leftovers after a timed-out read.
package serial

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"findme-ng/internal/clock"
)

const (
	lineEnd         = "\r\n"
	defaultPoll     = 50 * time.Millisecond
	defaultMaxBytes = 64 * 1024
	drainWindow     = 200 * time.Millisecond
)

type Config struct {
	Device string
	Baud   int
}

type Channel struct {
	rw  io.ReadWriter
	clk clock.Clock

	// Poll is the idle sleep between empty reads.
	Poll time.Duration
	// MaxBytes bounds a single capture.
	MaxBytes int
	Logf     func(format string, args ...any)

	buf   []byte
	dirty bool
}

// Open opens and configures the tty described by cfg.
func Open(cfg Config, clk clock.Clock) (*Channel, error) {
	device := strings.TrimSpace(cfg.Device)
	if device == "" {
		return nil, fmt.Errorf("serial device is required")
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = 115200
	}
	port, err := openPort(device, baud)
	if err != nil {
		return nil, fmt.Errorf("serial open failed device=%s baud=%d: %w", device, baud, err)
	}
	return New(port, clk), nil
}

// New wraps an already open stream.
func New(rw io.ReadWriter, clk clock.Clock) *Channel {
	if clk == nil {
		clk = clock.System{}
	}
	return &Channel{
		rw:       rw,
		clk:      clk,
		Poll:     defaultPoll,
		MaxBytes: defaultMaxBytes,
		Logf:     log.Printf,
		buf:      make([]byte, 256),
	}
}

func (c *Channel) Close() error {
	if c == nil {
		return nil
	}
	if cl, ok := c.rw.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Send writes text followed by CRLF.
func (c *Channel) Send(text string) error {
	if c.dirty {
		c.drain()
	}
	_, err := io.WriteString(c.rw, text+lineEnd)
	return err
}

// ReadUntil accumulates input until one of markers appears on a complete
// line, or timeout elapses. It returns the captured text and the earliest
// marker found; marker is empty when the read timed out without one.
func (c *Channel) ReadUntil(markers []string, timeout time.Duration) (string, string) {
	text, _ := c.ReadUntilFunc(func(s string) bool {
		_, ok := FirstMarker(s, markers, true)
		return ok
	}, timeout)
	marker, _ := FirstMarker(text, markers, false)
	return text, marker
}

// ReadUntilFunc accumulates input until done reports true for the text so
// far, or timeout elapses.
func (c *Channel) ReadUntilFunc(done func(string) bool, timeout time.Duration) (string, bool) {
	var sb strings.Builder
	deadline := c.clk.Now().Add(timeout)
	for {
		n, err := c.rw.Read(c.buf)
		if n > 0 {
			sb.Write(c.buf[:n])
			s := sb.String()
			if done(s) {
				return s, true
			}
			if sb.Len() >= c.maxBytes() {
				c.logf("serial capture overflow bytes=%d", sb.Len())
				c.dirty = true
				return s, false
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			c.logf("serial read failed: %v", err)
		}
		if !c.clk.Now().Before(deadline) {
			c.dirty = true
			return sb.String(), false
		}
		if n == 0 {
			c.clk.Sleep(c.poll())
		}
	}
}

// drain discards whatever arrives within a short window. Late bytes from a
// timed-out response would otherwise be read as the next command's reply.
func (c *Channel) drain() {
	c.dirty = false
	var stale strings.Builder
	deadline := c.clk.Now().Add(drainWindow)
	for c.clk.Now().Before(deadline) {
		n, _ := c.rw.Read(c.buf)
		if n == 0 {
			break
		}
		stale.Write(c.buf[:n])
		if stale.Len() >= c.maxBytes() {
			break
		}
	}
	if stale.Len() > 0 {
		c.logf("serial discarded stale input %q", stale.String())
	}
}

func (c *Channel) poll() time.Duration {
	if c.Poll <= 0 {
		return defaultPoll
	}
	return c.Poll
}

func (c *Channel) maxBytes() int {
	if c.MaxBytes <= 0 {
		return defaultMaxBytes
	}
	return c.MaxBytes
}

func (c *Channel) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

// FirstMarker returns the marker that occurs earliest in s. With wholeLine
// set, a marker only counts once a line end follows it.
func FirstMarker(s string, markers []string, wholeLine bool) (string, bool) {
	best := -1
	found := ""
	for _, m := range markers {
		if m == "" {
			continue
		}
		i := strings.Index(s, m)
		if i < 0 {
			continue
		}
		if wholeLine && !strings.Contains(s[i+len(m):], "\n") {
			continue
		}
		if best == -1 || i < best {
			best = i
			found = m
		}
	}
	return found, best != -1
}
