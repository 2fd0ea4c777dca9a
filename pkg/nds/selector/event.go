package selector

import "github.com/jabolina/nds/pkg/nds/conn"

// EventKind enumerates the events the Selector forwards to the Peer, per
// spec.md §4.4.4.
type EventKind int

const (
	// EventInterrupt is the periodic tick fired on every poll timeout. It is
	// not emitted when the Selector observes REQUEST_STOP.
	EventInterrupt EventKind = iota
	// EventIncomingConnect fires once per newly accepted inbound TCP
	// connection, so the Peer can push the current value to the newcomer.
	EventIncomingConnect
	// EventPacketAvailable carries one fully decoded payload.
	EventPacketAvailable
)

// Event is the unit of the Selector→Peer queue. Conn and Payload transfer
// ownership to the Peer: once enqueued, the Selector never touches them
// again (spec.md §5, "Buffer ownership").
type Event struct {
	Kind     EventKind
	Conn     *conn.Connection
	Payload  []byte
	SourceIP string
}

// Events exposes the blocking FIFO the Peer dequeues from. A buffered Go
// channel is the idiomatic equivalent of the condition-variable-guarded
// queue spec.md §5 describes: the Peer's only blocking wait here is the
// channel receive.
func (s *Selector) Events() <-chan Event {
	return s.events
}

// emit enqueues ev, blocking if the queue is momentarily full. The I/O
// thread must never drop a completed packet, so this has no nonblocking
// fallback; the queue is sized generously (see New) to make that wait rare.
func (s *Selector) emit(ev Event) {
	s.events <- ev
}
