package modem

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Transcript wraps a Port and keeps the last few exchanged lines for
// diagnostics.
type Transcript struct {
	Port

	mu           sync.Mutex
	maxLines     int
	maxLineBytes int
	lines        []string
}

func NewTranscript(p Port, maxLines int) *Transcript {
	if maxLines < 0 {
		maxLines = 0
	}
	return &Transcript{Port: p, maxLines: maxLines, maxLineBytes: 512, lines: make([]string, 0, maxLines)}
}

func (t *Transcript) Send(line string) error {
	t.add("> " + line)
	return t.Port.Send(line)
}

func (t *Transcript) ReadUntil(markers []string, timeout time.Duration) (string, string) {
	text, marker := t.Port.ReadUntil(markers, timeout)
	t.addCapture(text, marker != "")
	return text, marker
}

func (t *Transcript) ReadUntilFunc(done func(string) bool, timeout time.Duration) (string, bool) {
	text, ok := t.Port.ReadUntilFunc(done, timeout)
	t.addCapture(text, ok)
	return text, ok
}

func (t *Transcript) addCapture(text string, complete bool) {
	s := strings.TrimSpace(text)
	if !complete {
		s = fmt.Sprintf("%s [timeout]", s)
	}
	t.add("< " + strings.Join(strings.Fields(s), " "))
}

func (t *Transcript) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxLines == 0 {
		return
	}
	if len(line) > t.maxLineBytes {
		line = line[:t.maxLineBytes]
	}
	if len(t.lines) < t.maxLines {
		t.lines = append(t.lines, line)
		return
	}
	copy(t.lines, t.lines[1:])
	t.lines[len(t.lines)-1] = line
}

// Lines returns the retained lines, oldest first.
func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}
