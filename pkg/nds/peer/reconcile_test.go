package peer

import (
	"testing"
	"time"

	"github.com/jabolina/nds/pkg/nds/conn"
	"github.com/jabolina/nds/pkg/nds/definition"
	"github.com/jabolina/nds/pkg/nds/selector"
	"github.com/jabolina/nds/pkg/nds/wire"
)

// fakeEngine is an ioEngine test double recording every action the
// reconciliation rules take, so the rules in spec.md §4.5.4-§4.5.5 can be
// exercised without opening real sockets.
type fakeEngine struct {
	listenPort int
	events     chan selector.Event

	multicastSent   [][]byte
	connectRequests []struct {
		ip   string
		port int
	}
	disconnected []*conn.Connection
	sentPackets  []*conn.Connection
}

func newFakeEngine(listenPort int) *fakeEngine {
	return &fakeEngine{listenPort: listenPort, events: make(chan selector.Event, 8)}
}

func (f *fakeEngine) Run()                  {}
func (f *fakeEngine) ListenPort() int       { return f.listenPort }
func (f *fakeEngine) Events() <-chan selector.Event { return f.events }
func (f *fakeEngine) SendMulticast(payload []byte) error {
	f.multicastSent = append(f.multicastSent, payload)
	return nil
}
func (f *fakeEngine) PostConnectRequest(ip string, port int) {
	f.connectRequests = append(f.connectRequests, struct {
		ip   string
		port int
	}{ip, port})
}
func (f *fakeEngine) PostSendPacket(c *conn.Connection) { f.sentPackets = append(f.sentPackets, c) }
func (f *fakeEngine) PostDisconnect(c *conn.Connection) { f.disconnected = append(f.disconnected, c) }
func (f *fakeEngine) PostInterrupt()                    {}
func (f *fakeEngine) RequestReady()                     {}
func (f *fakeEngine) RequestSelectPhase()                {}
func (f *fakeEngine) RequestStop()                      {}
func (f *fakeEngine) AwaitStatus(target selector.Status, _ time.Duration) selector.Status {
	return target
}

func newTestPeer(listenPort int, currentTS, desiredTS uint32) (*Peer, *fakeEngine) {
	eng := newFakeEngine(listenPort)
	p := &Peer{
		cfg:            Config{ListenPort: listenPort},
		log:            definition.NewDefaultLogger(),
		metrics:        nil,
		sel:            eng,
		hostInterfaces: map[string]bool{"10.0.0.1": true},
		currentTS:      currentTS,
		desiredTS:      desiredTS,
	}
	return p, eng
}

// S6 — Equal-ts heartbeat is inert.
func TestOnAlive_EqualTimestampIsInert(t *testing.T) {
	p, eng := newTestPeer(9000, 100, 100)
	p.onAlive(wire.AliveRecord{ListenPort: 9001, Timestamp: 100, SourceIP: "10.0.0.2"})

	if p.currentTS != 100 || p.desiredTS != 100 {
		t.Fatalf("state mutated on equal-ts heartbeat: %+v", p.Snapshot())
	}
	if len(eng.multicastSent) != 0 {
		t.Fatalf("expected no alive reply, got %d", len(eng.multicastSent))
	}
}

// When current_ts == desired_ts (steady state) and the peer observes a
// lower foreign timestamp, it must reply with an alive so the sender
// learns a higher timestamp exists.
func TestOnAlive_StaleForeignGetsReply(t *testing.T) {
	p, eng := newTestPeer(9000, 100, 100)
	p.onAlive(wire.AliveRecord{ListenPort: 9001, Timestamp: 50, SourceIP: "10.0.0.2"})

	if len(eng.multicastSent) != 1 {
		t.Fatalf("expected exactly one alive reply, got %d", len(eng.multicastSent))
	}
	if p.currentTS != 100 {
		t.Fatalf("currentTS must not change on a stale foreign heartbeat, got %d", p.currentTS)
	}
}

// While already chasing a higher timestamp (current_ts < desired_ts), a
// stale foreign heartbeat must not trigger a reply.
func TestOnAlive_StaleForeignSilentWhileChasing(t *testing.T) {
	p, eng := newTestPeer(9000, 100, 150)
	p.onAlive(wire.AliveRecord{ListenPort: 9001, Timestamp: 50, SourceIP: "10.0.0.2"})

	if len(eng.multicastSent) != 0 {
		t.Fatalf("expected no reply while mid-synchronization, got %d", len(eng.multicastSent))
	}
}

// A higher foreign timestamp not already being chased triggers a
// ConnectRequest and raises desired_ts.
func TestOnAlive_HigherForeignTriggersConnect(t *testing.T) {
	p, eng := newTestPeer(9000, 100, 100)
	p.onAlive(wire.AliveRecord{ListenPort: 9001, Timestamp: 200, SourceIP: "10.0.0.2"})

	if p.desiredTS != 200 {
		t.Fatalf("expected desiredTS raised to 200, got %d", p.desiredTS)
	}
	if len(eng.connectRequests) != 1 {
		t.Fatalf("expected exactly one connect request, got %d", len(eng.connectRequests))
	}
	req := eng.connectRequests[0]
	if req.ip != "10.0.0.2" || req.port != 9001 {
		t.Fatalf("unexpected connect target %+v", req)
	}
	if p.currentTS != 100 {
		t.Fatalf("currentTS must only change on Data adoption, got %d", p.currentTS)
	}
}

// A higher foreign timestamp already being chased (desired_ts >= other_ts)
// must not issue a second connect request.
func TestOnAlive_HigherForeignAlreadyChasingNoop(t *testing.T) {
	p, eng := newTestPeer(9000, 100, 300)
	p.onAlive(wire.AliveRecord{ListenPort: 9001, Timestamp: 200, SourceIP: "10.0.0.2"})

	if len(eng.connectRequests) != 0 {
		t.Fatalf("expected no connect request, got %d", len(eng.connectRequests))
	}
	if p.desiredTS != 300 {
		t.Fatalf("desiredTS should not regress, got %d", p.desiredTS)
	}
}

// Two newborns (both current_ts == 0) must stay silent.
func TestOnAlive_BothNewbornsIgnored(t *testing.T) {
	p, eng := newTestPeer(9000, 0, 0)
	p.onAlive(wire.AliveRecord{ListenPort: 9001, Timestamp: 0, SourceIP: "10.0.0.2"})

	if len(eng.multicastSent) != 0 || len(eng.connectRequests) != 0 {
		t.Fatalf("expected no action between two newborns, got sends=%d connects=%d", len(eng.multicastSent), len(eng.connectRequests))
	}
}

// S5 — Stale sender is corrected: a Data record carrying a lower
// timestamp than desired_ts does not get adopted and triggers an alive
// broadcast informing the cluster.
func TestOnData_StaleSenderIsCorrected(t *testing.T) {
	p, eng := newTestPeer(9000, 500, 500)
	c := conn.New(conn.KindTCPOutbound, definition.NewDefaultLogger())
	exit := p.onData(wire.DataRecord{Value: "stale", Timestamp: 100}, c)

	if exit {
		t.Fatalf("non-get-mode peer must never exit on Data")
	}
	if p.data == "stale" || p.currentTS != 500 {
		t.Fatalf("stale value must not be adopted, got data=%q ts=%d", p.data, p.currentTS)
	}
	if len(eng.multicastSent) != 1 {
		t.Fatalf("expected exactly one corrective alive, got %d", len(eng.multicastSent))
	}
	if len(eng.disconnected) != 1 || eng.disconnected[0] != c {
		t.Fatalf("expected the data connection to be disconnected")
	}
}

// A fresher Data record is adopted and, in get mode, ends the event loop.
func TestOnData_FresherAdoptedAndGetModeExits(t *testing.T) {
	p, _ := newTestPeer(9000, 100, 300)
	p.cfg.GetMode = true
	c := conn.New(conn.KindTCPOutbound, definition.NewDefaultLogger())
	exit := p.onData(wire.DataRecord{Value: "Jerico", Timestamp: 300}, c)

	if !exit {
		t.Fatalf("get-mode peer must exit after adopting a fresher value")
	}
	if p.data != "Jerico" || p.currentTS != 300 {
		t.Fatalf("expected adoption of the fresher record, got %+v", p.Snapshot())
	}
}

// A daemon peer does not exit on Data adoption.
func TestOnData_DaemonDoesNotExit(t *testing.T) {
	p, _ := newTestPeer(9000, 100, 300)
	p.cfg.Daemon = true
	c := conn.New(conn.KindTCPOutbound, definition.NewDefaultLogger())
	exit := p.onData(wire.DataRecord{Value: "Jerico", Timestamp: 300}, c)

	if exit {
		t.Fatalf("daemon peer must not exit on Data adoption")
	}
}

// Invariant: desired_ts >= current_ts always holds after any reconciliation
// step, across every branch exercised above.
func TestInvariant_DesiredNeverBelowCurrent(t *testing.T) {
	cases := []func(p *Peer){
		func(p *Peer) { p.onAlive(wire.AliveRecord{ListenPort: 9001, Timestamp: 50, SourceIP: "10.0.0.2"}) },
		func(p *Peer) { p.onAlive(wire.AliveRecord{ListenPort: 9001, Timestamp: 9999, SourceIP: "10.0.0.2"}) },
		func(p *Peer) {
			c := conn.New(conn.KindTCPOutbound, definition.NewDefaultLogger())
			p.onData(wire.DataRecord{Value: "x", Timestamp: 9999}, c)
		},
	}
	for i, fn := range cases {
		p, _ := newTestPeer(9000, 100, 100)
		fn(p)
		if p.desiredTS < p.currentTS {
			t.Fatalf("case %d: invariant violated, current=%d desired=%d", i, p.currentTS, p.desiredTS)
		}
	}
}

// Idempotence: applying the same sequence of events to two peers starting
// from identical state yields the same final (current_ts, desired_ts, data).
func TestIdempotence_SameSequenceSameOutcome(t *testing.T) {
	apply := func(p *Peer) {
		p.onAlive(wire.AliveRecord{ListenPort: 9001, Timestamp: 400, SourceIP: "10.0.0.2"})
		c := conn.New(conn.KindTCPOutbound, definition.NewDefaultLogger())
		p.onData(wire.DataRecord{Value: "Jerico", Timestamp: 400}, c)
		p.onAlive(wire.AliveRecord{ListenPort: 9001, Timestamp: 400, SourceIP: "10.0.0.2"})
	}

	p1, _ := newTestPeer(9000, 100, 100)
	p2, _ := newTestPeer(9000, 100, 100)
	apply(p1)
	apply(p2)

	if p1.Snapshot() != p2.Snapshot() {
		t.Fatalf("divergent outcomes: %+v vs %+v", p1.Snapshot(), p2.Snapshot())
	}
}

// Foreign-event detection: spec.md §8 property 5 — a heartbeat whose
// source IP is local or whose port matches ours must never be treated as
// foreign.
func TestIsForeignAlive(t *testing.T) {
	p, _ := newTestPeer(9000, 0, 0)

	if p.isForeignAlive(wire.AliveRecord{ListenPort: 1234, SourceIP: "10.0.0.1"}) {
		t.Fatalf("a local-interface source must never be foreign")
	}
	if p.isForeignAlive(wire.AliveRecord{ListenPort: 9000, SourceIP: "10.0.0.9"}) {
		t.Fatalf("a heartbeat advertising our own port must never be foreign")
	}
	if !p.isForeignAlive(wire.AliveRecord{ListenPort: 9001, SourceIP: "10.0.0.9"}) {
		t.Fatalf("a different interface and different port must be foreign")
	}
}

// onInterrupt deadline logic (spec.md §4.5.5).
func TestOnInterrupt_DaemonSelfElectsAfterSilence(t *testing.T) {
	p, eng := newTestPeer(9000, 0, 0)
	p.cfg.Daemon = true
	p.synchDeadline = time.Now().Add(-time.Millisecond)

	exit := p.onInterrupt(time.Now())

	if exit {
		t.Fatalf("daemon must not exit after self-electing")
	}
	if p.currentTS == 0 || p.desiredTS != p.currentTS {
		t.Fatalf("expected self-election, got %+v", p.Snapshot())
	}
	if len(eng.multicastSent) != 1 {
		t.Fatalf("expected one alive broadcast after self-election, got %d", len(eng.multicastSent))
	}
}

func TestOnInterrupt_EphemeralExitsAfterDeadline(t *testing.T) {
	p, _ := newTestPeer(9000, 0, 0)
	p.cfg.Daemon = false
	p.synchDeadline = time.Now().Add(-time.Millisecond)

	if !p.onInterrupt(time.Now()) {
		t.Fatalf("ephemeral peer must exit once its deadline passes")
	}
}

func TestOnInterrupt_ExitRequestedWinsImmediately(t *testing.T) {
	p, _ := newTestPeer(9000, 100, 100)
	p.cfg.Daemon = true
	p.synchDeadline = time.Now().Add(time.Hour)
	p.RequestExit()

	if !p.onInterrupt(time.Now()) {
		t.Fatalf("explicit exit request must win over daemon residency")
	}
}
