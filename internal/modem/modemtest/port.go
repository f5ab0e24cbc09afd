// Package modemtest provides a scripted AT port for tests.
package modemtest

import (
	"strings"
	"time"

	"findme-ng/internal/serial"
)

const OK = "\r\nOK\r\n"

// Port answers each sent command from a script. Replies for one command are
// consumed in order and the last one repeats. An empty reply means the
// module stays silent, so the read times out.
type Port struct {
	// Default answers commands without a script entry.
	Default string

	Sent []string
	// Overlaps counts commands written while earlier reply bytes were
	// still unread.
	Overlaps int
	Timeouts int

	script  map[string][]string
	pending string
}

func New() *Port {
	return &Port{Default: OK, script: map[string][]string{}}
}

// On scripts the replies to cmd.
func (p *Port) On(cmd string, replies ...string) *Port {
	p.script[cmd] = append(p.script[cmd], replies...)
	return p
}

func (p *Port) Send(line string) error {
	if p.pending != "" {
		p.Overlaps++
		p.pending = ""
	}
	p.Sent = append(p.Sent, line)
	p.pending = p.reply(line)
	return nil
}

func (p *Port) reply(cmd string) string {
	replies, ok := p.script[cmd]
	if !ok || len(replies) == 0 {
		return p.Default
	}
	r := replies[0]
	if len(replies) > 1 {
		p.script[cmd] = replies[1:]
	}
	return r
}

func (p *Port) ReadUntil(markers []string, _ time.Duration) (string, string) {
	text := p.pending
	marker, ok := serial.FirstMarker(text, markers, true)
	if !ok {
		p.Timeouts++
		p.pending = ""
		marker, _ = serial.FirstMarker(text, markers, false)
		return text, marker
	}
	end := markerLineEnd(text, marker)
	p.pending = text[end:]
	return text[:end], marker
}

func (p *Port) ReadUntilFunc(done func(string) bool, _ time.Duration) (string, bool) {
	text := p.pending
	for i := 1; i <= len(text); i++ {
		if done(text[:i]) {
			p.pending = text[i:]
			return text[:i], true
		}
	}
	p.Timeouts++
	p.pending = ""
	return text, false
}

// Count returns how many times cmd was sent.
func (p *Port) Count(cmd string) int {
	n := 0
	for _, s := range p.Sent {
		if s == cmd {
			n++
		}
	}
	return n
}

// Last returns the most recently sent command.
func (p *Port) Last() string {
	if len(p.Sent) == 0 {
		return ""
	}
	return p.Sent[len(p.Sent)-1]
}

func markerLineEnd(text, marker string) int {
	i := strings.Index(text, marker) + len(marker)
	j := strings.IndexByte(text[i:], '\n')
	return i + j + 1
}
