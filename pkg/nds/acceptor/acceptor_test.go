package acceptor

import (
	"testing"

	"github.com/jabolina/nds/pkg/nds/definition"
)

// Bind collision on startup increments the port until it succeeds
// (spec.md §4.3, §8 property 9): binding a second Acceptor to an
// already-bound port must land one port higher.
func TestBind_IncrementsPortOnCollision(t *testing.T) {
	first := New(definition.NewDefaultLogger())
	firstPort, err := first.Bind(0, 4)
	if err != nil {
		t.Fatalf("first bind: %v", err)
	}
	defer first.Close()

	second := New(definition.NewDefaultLogger())
	secondPort, err := second.Bind(firstPort, 4)
	if err != nil {
		t.Fatalf("second bind: %v", err)
	}
	defer second.Close()

	if secondPort <= firstPort {
		t.Fatalf("expected second bind to land on a higher port than %d, got %d", firstPort, secondPort)
	}
}

// Accept on an empty listener returns ErrWouldBlock rather than hanging,
// since the acceptor's socket is always nonblocking.
func TestAccept_WouldBlockWhenNoPendingConnection(t *testing.T) {
	a := New(definition.NewDefaultLogger())
	port, err := a.Bind(0, 4)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer a.Close()
	if port == 0 {
		t.Fatalf("expected a concrete bound port")
	}

	if _, err := a.Accept(); err == nil {
		t.Fatalf("expected accept to report would-block with no pending connection")
	}
}
