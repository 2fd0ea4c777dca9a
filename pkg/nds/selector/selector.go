// Package selector implements the single-threaded readiness-based I/O loop
// described in spec.md §4.4: a dynamic fan of sockets — listening TCP,
// accepted TCPs, outgoing TCPs, a UDP multicast receiver, a UDP multicast
// sender and a self-pipe — multiplexed through golang.org/x/sys/unix.Poll,
// plus the lifecycle handshake and control/event channels that let a Peer
// drive it from another goroutine.
package selector

import (
	"sync"
	"time"

	"github.com/jabolina/nds/pkg/nds/acceptor"
	"github.com/jabolina/nds/pkg/nds/conn"
	"github.com/jabolina/nds/pkg/nds/definition"
	"github.com/jabolina/nds/pkg/nds/metrics"
)

// pollTimeout is the wall-clock interval of spec.md §4.4.2's readiness call,
// carried forward across loop iterations rather than restarted on every
// event (spec.md §5, "Timeouts").
const pollTimeout = 5 * time.Second

// acceptBacklog is the listen() backlog passed to the acceptor.
const acceptBacklog = 16

// Config configures the listening port and multicast group the Selector
// binds on entering SELECT. ListenPort is read back by the Peer after
// AwaitStatus(StatusSelect) returns, since the bound port may differ from
// the requested one (spec.md §4.3's port auto-adjustment contract) and
// outbound heartbeats must advertise the actual value.
type Config struct {
	ListenPort     int
	MulticastGroup string
	MulticastPort  int
}

// Selector is the I/O-thread half of a peer process. It is driven by a
// Peer across goroutines via the staged status handshake, the control
// queue (PostConnectRequest/PostSendPacket/PostDisconnect/PostInterrupt)
// and the Events() channel.
type Selector struct {
	cfg     Config
	log     definition.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	cond   *sync.Cond
	status Status

	events chan Event

	controlMu    sync.Mutex
	controlQueue []controlEvent
	pipe         *selfPipe

	acceptor  *acceptor.Acceptor
	mcastRecv *conn.Connection
	mcastSend *conn.Connection

	inboundTCP           map[int]*conn.Connection
	inboundPendingWrite  map[int]bool
	outboundTCP          map[int]*conn.Connection
	outboundPendingWrite map[int]bool

	boundPort int
}

// New constructs a Selector in TO_INIT. Call Run in its own goroutine (via
// definition.Invoker, per the teacher's InvokerInstance pattern) and drive
// it through the handshake with RequestReady/RequestSelectPhase.
func New(cfg Config, log definition.Logger, m *metrics.Metrics) *Selector {
	s := &Selector{
		cfg:                  cfg,
		log:                  log.WithSite("selector"),
		metrics:              m,
		status:               StatusToInit,
		events:               make(chan Event, 256),
		inboundTCP:           make(map[int]*conn.Connection),
		inboundPendingWrite:  make(map[int]bool),
		outboundTCP:          make(map[int]*conn.Connection),
		outboundPendingWrite: make(map[int]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ListenPort returns the TCP port actually bound, valid once AwaitStatus
// has returned StatusSelect or later.
func (s *Selector) ListenPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundPort
}

// Run is the Selector's entire worker-thread body: the staged handshake
// followed by the select loop, followed by shutdown. It is meant to be
// spawned once per Selector and never called concurrently with itself.
func (s *Selector) Run() {
	s.setStatus(StatusInit)
	s.AwaitStatus(StatusRequestReady, -1)
	s.setStatus(StatusReady)
	s.AwaitStatus(StatusRequestSelect, -1)

	if err := s.startConnections(); err != nil {
		s.log.Errorf("start connections failed: %v", err)
		s.setStatus(StatusError)
		s.shutdown()
		s.setStatus(StatusStopped)
		return
	}
	s.setStatus(StatusSelect)

	s.selectLoop()
	s.shutdown()
	s.setStatus(StatusStopped)
}

// startConnections binds the listening socket (with port auto-adjustment),
// creates the self-pipe, and establishes both multicast connections, per
// spec.md §4.4.2's entry into SELECT.
func (s *Selector) startConnections() error {
	s.acceptor = acceptor.New(s.log)
	port, err := s.acceptor.Bind(s.cfg.ListenPort, acceptBacklog)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.boundPort = port
	s.mu.Unlock()

	pipe, err := newSelfPipe()
	if err != nil {
		return err
	}
	s.pipe = pipe

	recv := conn.New(conn.KindUDPMulticastReceiver, s.log)
	if err := recv.EstablishMulticastReceiver(s.cfg.MulticastGroup, s.cfg.MulticastPort); err != nil {
		return err
	}
	s.mcastRecv = recv

	send := conn.New(conn.KindUDPMulticastSender, s.log)
	if err := send.EstablishMulticastSender(); err != nil {
		return err
	}
	s.mcastSend = send

	return nil
}

// SendMulticast frames and sends payload to the configured multicast group,
// the Peer's only direct (non-control-channel) call into the Selector's
// owned sockets — safe because the sender connection has no receive-side
// state and SendDatagram performs a single, self-contained sendto.
func (s *Selector) SendMulticast(payload []byte) error {
	return s.mcastSend.SendDatagram(s.cfg.MulticastGroup, s.cfg.MulticastPort, payload)
}

// shutdown closes every registered connection and the listening socket,
// clears the four registries, and closes the self-pipe, per spec.md 4.4.5.
func (s *Selector) shutdown() {
	for _, c := range s.inboundTCP {
		c.Close()
	}
	for _, c := range s.outboundTCP {
		c.Close()
	}
	s.inboundTCP = make(map[int]*conn.Connection)
	s.inboundPendingWrite = make(map[int]bool)
	s.outboundTCP = make(map[int]*conn.Connection)
	s.outboundPendingWrite = make(map[int]bool)

	if s.mcastRecv != nil {
		s.mcastRecv.Close()
	}
	if s.mcastSend != nil {
		s.mcastSend.Close()
	}
	if s.acceptor != nil {
		s.acceptor.Close()
	}
	if s.pipe != nil {
		s.pipe.close()
	}
}
