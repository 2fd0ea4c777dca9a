package conn

import (
	"io"
	"net"

	"golang.org/x/sys/unix"

	"github.com/jabolina/nds/pkg/nds/ndserr"
)

// ErrKind is the socket error taxonomy from spec.md §4.2.4: every syscall
// result is classified into exactly one of these.
type ErrKind int

const (
	ErrKindOK ErrKind = iota
	ErrKindWouldBlock
	ErrKindPeerClosed
	ErrKindReset
	ErrKindGeneric
)

// classify maps a raw syscall error onto the socket error taxonomy.
func classify(err error) ErrKind {
	if err == nil {
		return ErrKindOK
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return ErrKindWouldBlock
	}
	if err == unix.ECONNRESET {
		return ErrKindReset
	}
	if err == io.EOF {
		return ErrKindPeerClosed
	}
	return ErrKindGeneric
}

func sockaddrInet4(ip string, port int) (*unix.SockaddrInet4, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		resolved, err := net.ResolveIPAddr("ip4", ip)
		if err != nil {
			return nil, ndserr.Wrap(err, "resolve address")
		}
		parsed = resolved.IP
	}
	v4 := parsed.To4()
	if v4 == nil {
		return nil, ndserr.ErrBadArgument
	}
	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], v4)
	return sa, nil
}

func ipPortFromSockaddr(sa unix.Sockaddr) (string, uint16) {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3])
		return ip.String(), uint16(addr.Port)
	default:
		return "", 0
	}
}

// newBlockingStreamSocket creates an IPv4 TCP socket in the default
// blocking mode, used for outbound connect attempts: spec.md §4.2.5 has
// establish_tcp connect synchronously and only switch to nonblocking mode
// after the connection succeeds.
func newBlockingStreamSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, ndserr.Wrap(err, "create tcp socket")
	}
	return fd, nil
}

// newDatagramSocket creates a nonblocking IPv4 UDP socket.
func newDatagramSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, ndserr.Wrap(err, "create udp socket")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, ndserr.Wrap(err, "set nonblocking")
	}
	return fd, nil
}

// joinMulticastReceiver binds a UDP socket to INADDR_ANY:port and joins the
// given IPv4 multicast group on every interface.
func joinMulticastReceiver(fd int, groupIP string, port int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return ndserr.Wrap(err, "set reuseaddr")
	}
	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, sa); err != nil {
		return ndserr.Wrap(err, "bind multicast receiver")
	}
	group := net.ParseIP(groupIP).To4()
	if group == nil {
		return ndserr.ErrBadArgument
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], group)
	// INADDR_ANY: join on every local interface.
	mreq.Interface = [4]byte{0, 0, 0, 0}
	if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		return ndserr.Wrap(err, "join multicast group")
	}
	return nil
}

// setMulticastTTL sets the outgoing multicast TTL, used by the sender
// connection per spec.md §4.2.5 (TTL=2).
func setMulticastTTL(fd int, ttl int) error {
	return unix.SetsockoptByte(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, byte(ttl))
}
