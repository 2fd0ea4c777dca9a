package acceptor

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/jabolina/nds/pkg/nds/ndserr"
)

func newListenSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, ndserr.Wrap(err, "create listen socket")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, ndserr.Wrap(err, "set nonblocking")
	}
	return fd, nil
}

func bindListenAt(fd int, port int, backlog int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, sa); err != nil {
		return err
	}
	return unix.Listen(fd, backlog)
}

func boundPortOf(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, ndserr.Wrap(err, "getsockname")
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, ndserr.ErrBadStatus
	}
	return in4.Port, nil
}

func peerOf(sa unix.Sockaddr) (string, uint16) {
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "", 0
	}
	ip := net.IPv4(in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3])
	return ip.String(), uint16(in4.Port)
}
