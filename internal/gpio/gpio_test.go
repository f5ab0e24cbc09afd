package gpio

import (
	"errors"
	"testing"
)

func TestOpen_ZeroPinIsNop(t *testing.T) {
	called := false
	old := openFn
	openFn = func(int, string, int) (Output, error) {
		called = true
		return nil, errors.New("unexpected")
	}
	defer func() { openFn = old }()

	out, err := Open(0, "findme-ng", 0)
	if err != nil {
		t.Fatalf("Open(0) error: %v", err)
	}
	if called {
		t.Fatalf("pin 0 must not touch hardware")
	}
	if err := out.SetValue(1); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
}

func TestOpen_NegativePinRejected(t *testing.T) {
	if _, err := Open(-3, "findme-ng", 0); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPair_Mirror(t *testing.T) {
	a, i := &Memory{}, &Memory{}
	p := Pair{Active: a, Inactive: i}

	if err := p.Mirror(true); err != nil {
		t.Fatalf("Mirror(true): %v", err)
	}
	if a.Value() != 1 || i.Value() != 0 {
		t.Fatalf("active=%d inactive=%d want 1/0", a.Value(), i.Value())
	}
	if err := p.Mirror(false); err != nil {
		t.Fatalf("Mirror(false): %v", err)
	}
	if a.Value() != 0 || i.Value() != 1 {
		t.Fatalf("active=%d inactive=%d want 0/1", a.Value(), i.Value())
	}
}

func TestPair_CloseDrivesLow(t *testing.T) {
	a, i := &Memory{}, &Memory{}
	p := Pair{Active: a, Inactive: i}
	_ = p.Mirror(false)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if i.Value() != 0 {
		t.Fatalf("inactive=%d want 0 after close", i.Value())
	}
	if err := i.SetValue(1); err == nil {
		t.Fatalf("expected write after close to fail")
	}
}
