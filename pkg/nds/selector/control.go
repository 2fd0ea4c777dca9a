package selector

import "github.com/jabolina/nds/pkg/nds/conn"

// controlKind enumerates the Peer-to-Selector control events of
// spec.md §4.4.3.
type controlKind int

const (
	controlInterrupt controlKind = iota
	controlConnectRequest
	controlSendPacket
	controlDisconnect
)

// controlEvent is posted by the Peer (App thread) and consumed by the
// Selector (I/O thread). target identifies an already-registered connection
// for SendPacket/Disconnect; targetIP/targetPort carry a ConnectRequest's
// destination.
type controlEvent struct {
	kind       controlKind
	targetIP   string
	targetPort int
	target     *conn.Connection
}

// postControl appends ev to the control queue and wakes the self-pipe so a
// blocked poll() returns immediately. This is the only cross-goroutine
// mutation the App thread performs without going through the Selector's
// own I/O-thread loop.
func (s *Selector) postControl(ev controlEvent) {
	s.controlMu.Lock()
	s.controlQueue = append(s.controlQueue, ev)
	s.controlMu.Unlock()
	s.pipe.wake()
}

// PostInterrupt wakes the select loop without any registry side effect,
// used during shutdown to make REQUEST_STOP observed promptly.
func (s *Selector) PostInterrupt() {
	s.postControl(controlEvent{kind: controlInterrupt})
}

// PostConnectRequest asks the Selector to open an outbound TCP connection
// to ip:port and register it, per spec.md §4.5.4's ConnectRequest action.
func (s *Selector) PostConnectRequest(ip string, port int) {
	s.postControl(controlEvent{kind: controlConnectRequest, targetIP: ip, targetPort: port})
}

// PostSendPacket asks the Selector to watch c for writability so its
// already-queued outbound packets get flushed on the next loop iteration.
func (s *Selector) PostSendPacket(c *conn.Connection) {
	s.postControl(controlEvent{kind: controlSendPacket, target: c})
}

// PostDisconnect asks the Selector to close and deregister c.
func (s *Selector) PostDisconnect(c *conn.Connection) {
	s.postControl(controlEvent{kind: controlDisconnect, target: c})
}

// drainControlQueue atomically swaps out the pending control events for
// processing, so new posts during processing land in the next iteration.
func (s *Selector) drainControlQueue() []controlEvent {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	if len(s.controlQueue) == 0 {
		return nil
	}
	pending := s.controlQueue
	s.controlQueue = nil
	return pending
}

// processControl runs every queued control event. The self-pipe's own
// readability has already been drained by the caller.
func (s *Selector) processControl() {
	for _, ev := range s.drainControlQueue() {
		switch ev.kind {
		case controlInterrupt:
			// No registry side effect: its only job was to wake poll().
		case controlConnectRequest:
			s.handleConnectRequest(ev.targetIP, ev.targetPort)
		case controlSendPacket:
			s.handleSendPacket(ev.target)
		case controlDisconnect:
			s.handleDisconnect(ev.target)
		}
	}
}

func (s *Selector) handleConnectRequest(ip string, port int) {
	c := conn.New(conn.KindTCPOutbound, s.log)
	if err := c.EstablishTCP(ip, port); err != nil {
		s.log.Warnf("connect request to %s:%d failed: %v", ip, port, err)
		return
	}
	s.outboundTCP[c.FD] = c
	s.metrics.SetRegistrySize("outbound_tcp", len(s.outboundTCP))
}

// registryLookup reports which registry (if any) currently holds c, per
// the validity check spec.md §4.4.3 requires before acting on SendPacket or
// Disconnect: the connection may have been closed asynchronously (e.g. by
// the peer resetting the socket) between the Peer posting the event and
// the Selector processing it.
func (s *Selector) registryLookup(c *conn.Connection) (inbound bool, present bool) {
	if c == nil || c.FD < 0 {
		return false, false
	}
	if _, ok := s.inboundTCP[c.FD]; ok && s.inboundTCP[c.FD] == c {
		return true, true
	}
	if _, ok := s.outboundTCP[c.FD]; ok && s.outboundTCP[c.FD] == c {
		return false, true
	}
	return false, false
}

func (s *Selector) handleSendPacket(c *conn.Connection) {
	inbound, present := s.registryLookup(c)
	if !present {
		s.log.Warnf("send packet for unregistered connection %s:%d dropped", c.PeerIP, c.PeerPort)
		return
	}
	if inbound {
		s.inboundPendingWrite[c.FD] = true
	} else {
		s.outboundPendingWrite[c.FD] = true
	}
}

func (s *Selector) handleDisconnect(c *conn.Connection) {
	inbound, present := s.registryLookup(c)
	if !present {
		s.log.Warnf("disconnect for unregistered connection %s:%d dropped", c.PeerIP, c.PeerPort)
		return
	}
	fd := c.FD
	c.Close()
	if inbound {
		delete(s.inboundTCP, fd)
		delete(s.inboundPendingWrite, fd)
		s.metrics.SetRegistrySize("inbound_tcp", len(s.inboundTCP))
	} else {
		delete(s.outboundTCP, fd)
		delete(s.outboundPendingWrite, fd)
		s.metrics.SetRegistrySize("outbound_tcp", len(s.outboundTCP))
	}
}
