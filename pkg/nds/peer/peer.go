// Package peer implements the reconciliation state machine described in
// spec.md §4.5: the application-thread half of a node, which consumes
// events off a Selector and decides when to stay silent, reply with a
// heartbeat, or pull fresher data over a point-to-point TCP connection.
package peer

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jabolina/nds/pkg/nds/conn"
	"github.com/jabolina/nds/pkg/nds/definition"
	"github.com/jabolina/nds/pkg/nds/metrics"
	"github.com/jabolina/nds/pkg/nds/selector"
	"github.com/jabolina/nds/pkg/nds/wire"
)

// synchWindowMin/Max bound the random post-startup interval spec.md §3
// calls the "synch_deadline": 2-4 seconds after startup, after which a
// daemon self-elects a timestamp if it has heard nothing and an ephemeral
// set/get client gives up.
const (
	synchWindowMin = 2 * time.Second
	synchWindowMax = 4 * time.Second
)

// ioEngine is the slice of *selector.Selector the Peer depends on. Peer
// never reaches into the Selector's registries directly (those are
// I/O-thread owned, per spec.md §5); it only ever drives the staged
// handshake and posts control events. Narrowing this to an interface lets
// the reconciliation rules (onAlive/onData/onInterrupt) be tested against
// a fake that records actions instead of opening real sockets.
type ioEngine interface {
	Run()
	ListenPort() int
	Events() <-chan selector.Event
	SendMulticast(payload []byte) error
	PostConnectRequest(ip string, port int)
	PostSendPacket(c *conn.Connection)
	PostDisconnect(c *conn.Connection)
	PostInterrupt()
	RequestReady()
	RequestSelectPhase()
	RequestStop()
	AwaitStatus(target selector.Status, timeout time.Duration) selector.Status
}

// Config configures a Peer's startup behavior, assembled by cmd/nds from
// its CLI flags (spec.md §6).
type Config struct {
	ListenPort     int
	MulticastGroup string
	MulticastPort  int

	// Daemon, when true, keeps the peer resident past SynchDeadline
	// (spec.md §3 "daemon").
	Daemon bool

	// GetMode, when true, exits as soon as a Data record with a newer
	// timestamp than the peer's own is adopted (spec.md §4.5.4).
	GetMode bool

	// HasSetValue/SetValue implement the `set VALUE` invocation: the peer
	// self-assigns a fresh timestamp and the value on startup.
	HasSetValue bool
	SetValue    string

	// SynchWindow overrides the randomized 2-4s default, mainly for tests
	// that want a fast-converging fixture.
	SynchWindow time.Duration
}

// Peer is the single-goroutine reconciliation state machine. It owns no
// connection registry directly (that belongs to the Selector); it only
// ever mutates connections by posting control events, per spec.md §5.
type Peer struct {
	cfg     Config
	log     definition.Logger
	metrics *metrics.Metrics
	invoker definition.Invoker
	sel     ioEngine

	// mu guards currentTS/desiredTS/data: mutated only from the event-loop
	// goroutine, but also read by Snapshot from whichever goroutine calls
	// it (e.g. a test or an operator-facing status endpoint).
	mu        sync.Mutex
	currentTS uint32
	desiredTS uint32
	data      string

	synchDeadline  time.Time
	hostInterfaces map[string]bool

	exitRequested int32
}

// New constructs a Peer wired to a fresh Selector, but does not start
// either half yet; call Run.
func New(cfg Config, log definition.Logger, m *metrics.Metrics) (*Peer, error) {
	hosts, err := localIPv4Interfaces()
	if err != nil {
		return nil, err
	}

	window := cfg.SynchWindow
	if window == 0 {
		window = synchWindowMin + time.Duration(rand.Int63n(int64(synchWindowMax-synchWindowMin)))
	}

	sel := selector.New(selector.Config{
		ListenPort:     cfg.ListenPort,
		MulticastGroup: cfg.MulticastGroup,
		MulticastPort:  cfg.MulticastPort,
	}, log, m)

	return &Peer{
		cfg:            cfg,
		log:            log.WithSite("peer"),
		metrics:        m,
		invoker:        definition.InvokerInstance(),
		sel:            sel,
		hostInterfaces: hosts,
		synchDeadline:  time.Now().Add(window),
	}, nil
}

// Run drives the Selector through its startup handshake, performs the
// set/daemon startup sequence from spec.md §4.5.1, then blocks in the
// event loop until a deadline or an adopted Data record ends it. It
// returns the peer's final data value.
func (p *Peer) Run() (string, error) {
	p.invoker.Spawn(p.sel.Run)
	p.sel.AwaitStatus(selector.StatusInit, -1)
	p.sel.RequestReady()
	p.sel.AwaitStatus(selector.StatusReady, -1)
	p.sel.RequestSelectPhase()
	if status := p.sel.AwaitStatus(selector.StatusSelect, -1); status != selector.StatusSelect {
		return "", errSelectorStartFailed
	}

	if p.cfg.HasSetValue {
		p.mu.Lock()
		p.data = p.cfg.SetValue
		p.currentTS = genTS()
		p.desiredTS = p.currentTS
		p.metrics.SetConvergence(p.currentTS)
		p.mu.Unlock()
	}
	p.broadcastAlive()

	p.eventLoop()

	p.sel.RequestStop()
	p.sel.PostInterrupt()
	p.sel.AwaitStatus(selector.StatusStopped, -1)
	return p.getData(), nil
}

// RequestExit asks the event loop to stop at its next Interrupt tick,
// callable from another goroutine (e.g. a signal handler in a daemon's
// outermost main).
func (p *Peer) RequestExit() {
	atomic.StoreInt32(&p.exitRequested, 1)
	p.sel.PostInterrupt()
}

func (p *Peer) shouldExit() bool {
	return atomic.LoadInt32(&p.exitRequested) == 1
}

// eventLoop consumes the Selector's event queue until the deadline logic
// or a reconciliation rule decides to stop (spec.md §4.5.4).
func (p *Peer) eventLoop() {
	for ev := range p.sel.Events() {
		switch ev.Kind {
		case selector.EventInterrupt:
			if p.onInterrupt(time.Now()) {
				return
			}
		case selector.EventIncomingConnect:
			p.sendDataTo(ev.Conn)
		case selector.EventPacketAvailable:
			if p.onPacket(ev) {
				return
			}
		}
	}
}

// onInterrupt runs the deadline logic of spec.md §4.5.5 and reports
// whether the event loop should exit.
func (p *Peer) onInterrupt(now time.Time) bool {
	if p.shouldExit() {
		return true
	}
	if !p.cfg.Daemon && now.After(p.synchDeadline) {
		return true
	}
	p.mu.Lock()
	selfElect := p.currentTS == 0 && p.desiredTS == 0 && now.After(p.synchDeadline)
	if selfElect {
		p.currentTS = genTS()
		p.desiredTS = p.currentTS
		p.metrics.SetConvergence(p.currentTS)
	}
	p.mu.Unlock()

	if selfElect {
		p.broadcastAlive()
	}
	return false
}

// onPacket dispatches an inbound payload to the alive or data handler and
// reports whether the event loop should exit (only get-mode Data adoption
// does that).
func (p *Peer) onPacket(ev selector.Event) bool {
	pt, err := wire.PeekType(ev.Payload)
	if err != nil {
		p.log.Warnf("malformed packet dropped: %v", err)
		return false
	}
	switch pt {
	case wire.PacketTypeAlive:
		rec, err := wire.UnmarshalAlive(ev.Payload)
		if err != nil {
			p.log.Warnf("malformed alive record dropped: %v", err)
			return false
		}
		rec.SourceIP = ev.SourceIP
		if !p.isForeignAlive(rec) {
			return false
		}
		p.onAlive(rec)
		return false
	case wire.PacketTypeData:
		rec, err := wire.UnmarshalData(ev.Payload)
		if err != nil {
			p.log.Warnf("malformed data record dropped: %v", err)
			return false
		}
		return p.onData(rec, ev.Conn)
	default:
		p.log.Warnf("unknown packet type %q dropped", pt)
		return false
	}
}

// isForeignAlive reports whether rec originated from another peer, per
// spec.md §4.5.2: not one of this host's interfaces AND a different
// listening port than our own.
func (p *Peer) isForeignAlive(rec wire.AliveRecord) bool {
	local := p.hostInterfaces[rec.SourceIP]
	samePort := int(rec.ListenPort) == p.sel.ListenPort()
	return !local && !samePort
}

// broadcastAlive sends this peer's current heartbeat over multicast.
func (p *Peer) broadcastAlive() {
	rec := wire.NewAlive(uint16(p.sel.ListenPort()), p.getCurrentTS())
	payload, err := wire.MarshalAlive(rec)
	if err != nil {
		p.log.Errorf("failed marshaling alive record: %v", err)
		return
	}
	if err := p.sel.SendMulticast(payload); err != nil {
		p.log.Warnf("failed broadcasting alive: %v", err)
	}
}

// sendDataTo pushes the current value to a newly accepted connection, per
// spec.md §4.5.3/§4.5.4's IncomingConnect handling.
func (p *Peer) sendDataTo(c *conn.Connection) {
	if c == nil {
		return
	}
	p.mu.Lock()
	value, ts := p.data, p.currentTS
	p.mu.Unlock()
	rec := wire.NewData(value, ts)
	payload, err := wire.MarshalData(rec)
	if err != nil {
		p.log.Errorf("failed marshaling data record: %v", err)
		return
	}
	c.Enqueue(payload)
	p.sel.PostSendPacket(c)
}

// genTS is the wall-clock timestamp generator spec.md calls gen_ts.
func genTS() uint32 {
	return uint32(time.Now().Unix())
}
