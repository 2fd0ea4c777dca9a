package peer

// State is a snapshot of the reconciliation fields, exposed for tests and
// for an operator-facing status endpoint; production code never mutates
// through it.
type State struct {
	CurrentTS uint32
	DesiredTS uint32
	Data      string
}

// Snapshot returns the peer's current reconciliation state. Safe to call
// from any goroutine.
func (p *Peer) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{CurrentTS: p.currentTS, DesiredTS: p.desiredTS, Data: p.data}
}

// getCurrentTS reads currentTS under the lock.
func (p *Peer) getCurrentTS() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentTS
}

// getData reads data under the lock.
func (p *Peer) getData() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}
