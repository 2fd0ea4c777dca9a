// Package acceptor binds and listens on the TCP server socket, with the
// port auto-adjustment contract from spec.md §4.3: a bind collision bumps
// the port by one and retries, indefinitely, logging every attempt.
package acceptor

import (
	"golang.org/x/sys/unix"

	"github.com/jabolina/nds/pkg/nds/conn"
	"github.com/jabolina/nds/pkg/nds/definition"
	"github.com/jabolina/nds/pkg/nds/ndserr"
)

// Acceptor owns the listening TCP socket.
type Acceptor struct {
	fd   int
	port int
	log  definition.Logger
}

// New creates an unbound Acceptor; Bind chooses the starting port.
func New(log definition.Logger) *Acceptor {
	return &Acceptor{fd: -1, log: log.WithSite("acceptor")}
}

// Bind binds and listens starting at requestedPort, incrementing the port
// on every EADDRINUSE until one succeeds. It returns the port actually
// bound, which the caller must write back into its configuration since
// outbound heartbeats advertise the listening port.
func (a *Acceptor) Bind(requestedPort int, backlog int) (int, error) {
	fd, err := newListenSocket()
	if err != nil {
		return 0, err
	}

	port := requestedPort
	for {
		bindErr := bindListenAt(fd, port, backlog)
		if bindErr == nil {
			break
		}
		if bindErr != unix.EADDRINUSE {
			_ = unix.Close(fd)
			return 0, ndserr.Wrap(bindErr, "bind")
		}
		a.log.Infof("port %d in use, retrying with %d", port, port+1)
		port++
	}

	bound, err := boundPortOf(fd)
	if err != nil {
		_ = unix.Close(fd)
		return 0, err
	}

	a.fd = fd
	a.port = bound
	return bound, nil
}

// FD exposes the raw listening socket for the selector's poll set.
func (a *Acceptor) FD() int {
	return a.fd
}

// Port returns the port actually bound.
func (a *Acceptor) Port() int {
	return a.port
}

// Accept produces a new inbound TCP connection in Established state with
// its own nonblocking socket.
func (a *Acceptor) Accept() (*conn.Connection, error) {
	fd, sa, err := unix.Accept(a.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, ndserr.ErrWouldBlock
		}
		return nil, ndserr.Wrap(err, "accept")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, ndserr.Wrap(err, "set nonblocking")
	}
	ip, port := peerOf(sa)
	return conn.AdoptAccepted(fd, ip, port, a.log), nil
}

// Close shuts down the listening socket.
func (a *Acceptor) Close() {
	if a.fd >= 0 {
		_ = unix.Close(a.fd)
		a.fd = -1
	}
}
