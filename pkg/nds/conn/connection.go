// Package conn implements the framed connection: a socket plus the framing
// state machine and per-direction staging buffers described in spec.md §3
// and §4.2.
package conn

import (
	"golang.org/x/sys/unix"

	"github.com/jabolina/nds/pkg/nds/buffer"
	"github.com/jabolina/nds/pkg/nds/definition"
	"github.com/jabolina/nds/pkg/nds/ndserr"
	"github.com/jabolina/nds/pkg/nds/wire"
)

// Kind distinguishes the four connection shapes the registry tracks.
type Kind int

const (
	KindTCPInbound Kind = iota
	KindTCPOutbound
	KindUDPMulticastReceiver
	KindUDPMulticastSender
)

func (k Kind) String() string {
	switch k {
	case KindTCPInbound:
		return "tcp-inbound"
	case KindTCPOutbound:
		return "tcp-outbound"
	case KindUDPMulticastReceiver:
		return "udp-mcast-rx"
	case KindUDPMulticastSender:
		return "udp-mcast-tx"
	default:
		return "undefined"
	}
}

// Status is whether the connection currently owns a live socket.
type Status int

const (
	StatusDisconnected Status = iota
	StatusEstablished
)

// stagingCapacity is the minimum size of the send coalescing buffer.
const stagingCapacity = 8 * 1024

// Connection is a socket plus the framing state machine and per-direction
// staging buffers. It owns its receive buffer, outbound queue and send
// staging buffer exclusively; the only other holders are the selector's
// registry (primary ownership) and, transiently, in-flight events.
type Connection struct {
	Kind     Kind
	Status   Status
	FD       int
	PeerIP   string
	PeerPort uint16

	recv    *buffer.Buffer
	decoder *wire.Decoder

	outbound []*buffer.Buffer
	current  *buffer.Buffer
	stage    *buffer.Buffer
	sending  bool

	log definition.Logger
}

// New allocates a fresh, disconnected Connection of the given kind.
func New(kind Kind, log definition.Logger) *Connection {
	return &Connection{
		Kind:    kind,
		Status:  StatusDisconnected,
		FD:      -1,
		recv:    buffer.New(buffer.DefaultCapacity),
		decoder: wire.NewDecoder(),
		stage:   buffer.New(stagingCapacity),
		log:     log.WithSite("connection"),
	}
}

// adopt wraps an already-connected, already-nonblocking fd (e.g. one
// returned by accept()) into an Established Connection.
func adopt(kind Kind, fd int, peerIP string, peerPort uint16, log definition.Logger) *Connection {
	c := New(kind, log)
	c.FD = fd
	c.PeerIP = peerIP
	c.PeerPort = peerPort
	c.Status = StatusEstablished
	return c
}

// EstablishTCP creates a stream socket and connects it to ip:port. Per
// spec.md §4.2.5 the connect itself is a synchronous, blocking call issued
// on the I/O thread (the original design's simplification — there is no
// connect-in-progress state to track); only once it succeeds is the socket
// switched to nonblocking mode for the lifetime of the connection.
func (c *Connection) EstablishTCP(ip string, port int) error {
	fd, err := newBlockingStreamSocket()
	if err != nil {
		return err
	}
	sa, err := sockaddrInet4(ip, port)
	if err != nil {
		_ = unix.Close(fd)
		return err
	}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return ndserr.Wrap(err, "connect")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return ndserr.Wrap(err, "set nonblocking")
	}
	c.FD = fd
	c.PeerIP = ip
	c.PeerPort = uint16(port)
	c.Status = StatusEstablished
	return nil
}

// EstablishMulticastReceiver creates the UDP receiver connection: bind
// INADDR_ANY:port, join the multicast group on every interface.
func (c *Connection) EstablishMulticastReceiver(groupIP string, port int) error {
	fd, err := newDatagramSocket()
	if err != nil {
		return err
	}
	if err := joinMulticastReceiver(fd, groupIP, port); err != nil {
		_ = unix.Close(fd)
		return err
	}
	c.FD = fd
	c.PeerIP = groupIP
	c.PeerPort = uint16(port)
	c.Status = StatusEstablished
	return nil
}

// EstablishMulticastSender creates the UDP sender connection: TTL=2,
// otherwise unbound (the destination is supplied per sendto call).
func (c *Connection) EstablishMulticastSender() error {
	fd, err := newDatagramSocket()
	if err != nil {
		return err
	}
	if err := setMulticastTTL(fd, 2); err != nil {
		_ = unix.Close(fd)
		return err
	}
	c.FD = fd
	c.Status = StatusEstablished
	return nil
}

// AdoptAccepted wraps a freshly-accepted TCP socket.
func AdoptAccepted(fd int, peerIP string, peerPort uint16, log definition.Logger) *Connection {
	return adopt(KindTCPInbound, fd, peerIP, peerPort, log)
}

// Close releases the socket and resets every buffer to the fresh state, per
// the invariant that a Disconnected connection has no buffered unread bytes
// and an empty outbound queue.
func (c *Connection) Close() {
	if c.FD >= 0 {
		_ = unix.Close(c.FD)
	}
	c.FD = -1
	c.Status = StatusDisconnected
	c.recv.Reset()
	c.decoder = wire.NewDecoder()
	c.outbound = nil
	c.current = nil
	c.stage.Reset()
	c.sending = false
}

// Enqueue frames payload and appends it to the outbound queue (TCP path
// only; UDP sends bypass the queue entirely, see SendDatagram).
func (c *Connection) Enqueue(payload []byte) {
	c.outbound = append(c.outbound, wire.Encode(payload))
}

// HasPendingWrite reports whether the connection has anything queued for
// the next Flush, the condition the selector uses to decide whether this
// connection still belongs in a pending_write registry.
func (c *Connection) HasPendingWrite() bool {
	return c.sending || c.current != nil || len(c.outbound) > 0
}

// Flush runs the send-coalescing path described in spec.md §4.2.2: drain
// queued packets into the staging buffer, then call write() until the
// staging buffer drains, would block, or errors. It returns blocked=true if
// the socket would block mid-send (the selector should keep watching for
// writability); otherwise the staging buffer has been fully drained.
func (c *Connection) Flush() (blocked bool, err error) {
	if !c.sending {
		for c.stage.Remaining() > 0 {
			if c.current == nil || c.current.AvailableToRead() == 0 {
				if len(c.outbound) == 0 {
					break
				}
				c.current = c.outbound[0]
				c.outbound = c.outbound[1:]
			}
			if n := c.stage.AppendWithoutResize(c.current); n == 0 {
				break
			}
			if c.current.AvailableToRead() == 0 {
				c.current = nil
			}
		}
		if c.stage.Position() == 0 {
			return false, nil
		}
		c.stage.SetReadMode()
		c.sending = true
	}

	for c.stage.AvailableToRead() > 0 {
		window := c.stage.Bytes()[c.stage.Position():c.stage.Limit()]
		n, werr := unix.Write(c.FD, window)
		if werr != nil {
			switch classify(werr) {
			case ErrKindWouldBlock:
				c.stage.SetMark()
				return true, nil
			default:
				return false, c.fail(werr)
			}
		}
		if n <= 0 {
			c.stage.SetMark()
			return true, nil
		}
		if err := c.stage.AdvanceReadPosition(n); err != nil {
			return false, err
		}
	}

	c.stage.Reset()
	c.stage.SetWriteMode()
	c.sending = false
	return false, nil
}

// SendDatagram builds length||payload and calls sendto exactly once,
// bypassing coalescing, per spec.md §4.2.3. Failure is logged and returned;
// there is no retry.
func (c *Connection) SendDatagram(groupIP string, port int, payload []byte) error {
	framed := wire.Encode(payload)
	sa, err := sockaddrInet4(groupIP, port)
	if err != nil {
		return err
	}
	data := framed.Bytes()[framed.Position():framed.Limit()]
	if err := unix.Sendto(c.FD, data, 0, sa); err != nil {
		c.log.Errorf("sendto %s:%d failed: %v", groupIP, port, err)
		return ndserr.Wrap(err, "sendto")
	}
	return nil
}

// RecvTCP reads whatever is currently available into the receive buffer and
// runs the framing state machine, returning every complete packet decoded.
func (c *Connection) RecvTCP() ([][]byte, error) {
	c.recv.SetWriteMode()
	if err := c.recv.EnsureCapacity(buffer.DefaultCapacity); err != nil {
		return nil, err
	}
	window := c.recv.Bytes()[c.recv.Position():c.recv.Capacity()]
	n, err := unix.Read(c.FD, window)
	if err != nil {
		switch classify(err) {
		case ErrKindWouldBlock:
			return nil, ndserr.ErrWouldBlock
		default:
			return nil, c.fail(err)
		}
	}
	if n == 0 {
		return nil, c.fail(nil) // clean EOF: PeerClosed
	}
	if err := c.recv.CommitWrite(n); err != nil {
		return nil, err
	}
	c.recv.SetReadMode()
	return c.decoder.Feed(c.recv)
}

// RecvUDP reads exactly one datagram (the datagram boundary coincides with
// the message boundary per spec.md §4.2.1) and runs the framing state
// machine once, returning the source IP the datagram arrived from.
func (c *Connection) RecvUDP() (packets [][]byte, sourceIP string, err error) {
	c.recv.SetWriteMode()
	if err := c.recv.EnsureCapacity(buffer.DefaultCapacity); err != nil {
		return nil, "", err
	}
	window := c.recv.Bytes()[c.recv.Position():c.recv.Capacity()]
	n, from, rerr := unix.Recvfrom(c.FD, window, 0)
	if rerr != nil {
		switch classify(rerr) {
		case ErrKindWouldBlock:
			return nil, "", ndserr.ErrWouldBlock
		default:
			return nil, "", c.fail(rerr)
		}
	}
	if n == 0 {
		return nil, "", nil
	}
	if err := c.recv.CommitWrite(n); err != nil {
		return nil, "", err
	}
	c.recv.SetReadMode()
	ip, _ := ipPortFromSockaddr(from)
	packets, err = c.decoder.Feed(c.recv)
	return packets, ip, err
}

// fail classifies err (nil means clean EOF), logs it, and resets the
// connection's buffers per spec.md §4.2.4 (PeerClosed/Reset/Generic all
// close the connection). It returns the sentinel matching the taxonomy.
func (c *Connection) fail(err error) error {
	kind := classify(err)
	if err == nil {
		kind = ErrKindPeerClosed
	}
	switch kind {
	case ErrKindPeerClosed:
		c.log.Debugf("connection %s:%d closed by peer", c.PeerIP, c.PeerPort)
	case ErrKindReset:
		c.log.Warnf("connection %s:%d reset: %v", c.PeerIP, c.PeerPort, err)
	default:
		c.log.Errorf("connection %s:%d failed: %v", c.PeerIP, c.PeerPort, err)
	}
	c.Close()
	switch kind {
	case ErrKindPeerClosed:
		return ndserr.ErrPeerClosed
	case ErrKindReset:
		return ndserr.ErrReset
	default:
		return ndserr.Wrap(err, "socket error")
	}
}
