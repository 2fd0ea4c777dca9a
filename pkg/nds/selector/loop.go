package selector

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/jabolina/nds/pkg/nds/conn"
	"github.com/jabolina/nds/pkg/nds/ndserr"
)

// watchRole tags each pollfd entry with how dispatch should treat it,
// giving the fixed dispatch order spec.md §4.4.2 requires: self-pipe,
// multicast receiver, listener, existing inbound TCPs, then existing
// outbound TCPs. A TCP connection's writable side is flushed right after
// its readable side, within the same entry.
type watchRole int

const (
	roleSelfPipe watchRole = iota
	roleMulticastRecv
	roleListener
	roleInboundTCP
	roleOutboundTCP
)

type watchEntry struct {
	role watchRole
	fd   int
}

// buildPollSet assembles the poll() argument from the four registries plus
// the three singletons. Per spec.md §4.4.2 point 1, a connection is pruned
// from its pending_write set here if its staging buffer has since drained,
// before the write-interest bit is computed.
func (s *Selector) buildPollSet() ([]watchEntry, []unix.PollFd) {
	for fd, c := range s.inboundTCP {
		if s.inboundPendingWrite[fd] && !c.HasPendingWrite() {
			delete(s.inboundPendingWrite, fd)
		}
	}
	for fd, c := range s.outboundTCP {
		if s.outboundPendingWrite[fd] && !c.HasPendingWrite() {
			delete(s.outboundPendingWrite, fd)
		}
	}

	entries := make([]watchEntry, 0, 3+len(s.inboundTCP)+len(s.outboundTCP))
	pollfds := make([]unix.PollFd, 0, cap(entries))

	add := func(role watchRole, fd int, writable bool) {
		events := int16(unix.POLLIN)
		if writable {
			events |= unix.POLLOUT
		}
		entries = append(entries, watchEntry{role: role, fd: fd})
		pollfds = append(pollfds, unix.PollFd{Fd: int32(fd), Events: events})
	}

	add(roleSelfPipe, s.pipe.readFD, false)
	add(roleMulticastRecv, s.mcastRecv.FD, false)
	add(roleListener, s.acceptor.FD(), false)
	for fd := range s.inboundTCP {
		add(roleInboundTCP, fd, s.inboundPendingWrite[fd])
	}
	for fd := range s.outboundTCP {
		add(roleOutboundTCP, fd, s.outboundPendingWrite[fd])
	}

	return entries, pollfds
}

// selectLoop is the body of the SELECT state: rebuild watch sets, block on
// readiness, dispatch. It runs until RequestStop (observed as StatusError
// or StatusRequestStop) is seen.
func (s *Selector) selectLoop() {
	deadline := time.Now().Add(pollTimeout)

	for s.currentStatus() == StatusSelect || s.currentStatus() == StatusRequestStop {
		if s.currentStatus() == StatusRequestStop {
			return
		}

		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}

		entries, pollfds := s.buildPollSet()
		n, err := unix.Poll(pollfds, int(remaining/time.Millisecond))
		if s.metrics != nil {
			s.metrics.ReadyLoop()
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			s.log.Errorf("poll failed: %v", err)
			continue
		}

		if n == 0 {
			s.emit(Event{Kind: EventInterrupt})
			deadline = time.Now().Add(pollTimeout)
			continue
		}

		s.dispatch(entries, pollfds, n)
	}
}

// dispatch walks the ready pollfds in the fixed order spec.md §4.4.2
// requires, short-circuiting once the decrementing ready count reaches
// zero.
func (s *Selector) dispatch(entries []watchEntry, pollfds []unix.PollFd, ready int) {
	remaining := ready

	for i, pfd := range pollfds {
		if remaining <= 0 {
			return
		}
		if pfd.Revents == 0 {
			continue
		}
		remaining--
		entry := entries[i]

		readable := pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
		writable := pfd.Revents&unix.POLLOUT != 0

		switch entry.role {
		case roleSelfPipe:
			if readable {
				s.pipe.drain()
				s.processControl()
			}
		case roleMulticastRecv:
			if readable {
				s.dispatchMulticastRead()
			}
		case roleListener:
			if readable {
				s.dispatchAccept()
			}
		case roleInboundTCP:
			s.dispatchTCP(entry.fd, s.inboundTCP, s.inboundPendingWrite, readable, writable)
		case roleOutboundTCP:
			s.dispatchTCP(entry.fd, s.outboundTCP, s.outboundPendingWrite, readable, writable)
		}
	}
}

func (s *Selector) dispatchMulticastRead() {
	packets, sourceIP, err := s.mcastRecv.RecvUDP()
	if err != nil {
		if err != ndserr.ErrWouldBlock {
			s.log.Errorf("multicast receive failed: %v", err)
		}
		return
	}
	for _, payload := range packets {
		s.emit(Event{Kind: EventPacketAvailable, Payload: payload, SourceIP: sourceIP})
	}
}

func (s *Selector) dispatchAccept() {
	for {
		c, err := s.acceptor.Accept()
		if err != nil {
			if err != ndserr.ErrWouldBlock {
				s.log.Errorf("accept failed: %v", err)
			}
			return
		}
		s.inboundTCP[c.FD] = c
		if s.metrics != nil {
			s.metrics.SetRegistrySize("inbound_tcp", len(s.inboundTCP))
		}
		s.emit(Event{Kind: EventIncomingConnect, Conn: c})
	}
}

// dispatchTCP runs the receive-then-frame path on readability and the
// coalescing send path on writability, for a connection living in registry
// keyed by fd. pendingWrite is consulted/updated to match §4.4.2.
func (s *Selector) dispatchTCP(fd int, registry map[int]*conn.Connection, pendingWrite map[int]bool, readable, writable bool) {
	c, ok := registry[fd]
	if !ok {
		return
	}

	if readable {
		packets, err := c.RecvTCP()
		if err != nil && err != ndserr.ErrWouldBlock {
			delete(registry, fd)
			delete(pendingWrite, fd)
			return
		}
		for _, payload := range packets {
			s.emit(Event{Kind: EventPacketAvailable, Conn: c, Payload: payload})
		}
	}

	if writable {
		blocked, err := c.Flush()
		if err != nil {
			delete(registry, fd)
			delete(pendingWrite, fd)
			return
		}
		if !blocked {
			delete(pendingWrite, fd)
		}
	}
}
