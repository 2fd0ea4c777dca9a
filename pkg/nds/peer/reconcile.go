package peer

import (
	"github.com/jabolina/nds/pkg/nds/conn"
	"github.com/jabolina/nds/pkg/nds/metrics"
	"github.com/jabolina/nds/pkg/nds/ndserr"
	"github.com/jabolina/nds/pkg/nds/wire"
)

// errSelectorStartFailed is returned by Run when the Selector's staged
// handshake never reaches SELECT (e.g. the listening socket bind loop or
// multicast join failed, per spec.md §4.4.1's ERROR transition).
var errSelectorStartFailed = ndserr.ErrAbort

// onAlive implements the heartbeat reconciliation rules of spec.md
// §4.5.4: silence, unicast reply, or a pull via ConnectRequest, decided
// purely from the two timestamps.
func (p *Peer) onAlive(rec wire.AliveRecord) {
	p.mu.Lock()
	current, desired := p.currentTS, p.desiredTS
	p.mu.Unlock()

	if current == 0 && rec.Timestamp == 0 {
		// Two newborns mid-synchronization; neither has anything to offer.
		p.metrics.Reconciliation(metrics.VerdictIgnored)
		return
	}

	switch {
	case current > rec.Timestamp:
		if current == desired {
			p.broadcastAlive()
			p.metrics.Reconciliation(metrics.VerdictReplied)
		} else {
			p.metrics.Reconciliation(metrics.VerdictIgnored)
		}
	case current < rec.Timestamp:
		if desired < rec.Timestamp {
			p.mu.Lock()
			p.desiredTS = rec.Timestamp
			p.mu.Unlock()
			p.sel.PostConnectRequest(rec.SourceIP, int(rec.ListenPort))
			p.metrics.Reconciliation(metrics.VerdictConnected)
		} else {
			p.metrics.Reconciliation(metrics.VerdictIgnored)
		}
	default:
		p.metrics.Reconciliation(metrics.VerdictIgnored)
	}
}

// onData implements the value-transfer reconciliation rules of spec.md
// §4.5.4. It reports whether the peer should exit (a get-mode client that
// just adopted a fresher value). The outbound connection Data arrives on
// is always closed afterwards, whatever the verdict.
func (p *Peer) onData(rec wire.DataRecord, c *conn.Connection) bool {
	exit := false

	p.mu.Lock()
	current, desired := p.currentTS, p.desiredTS
	adopted := rec.Timestamp > current
	if adopted {
		p.data = rec.Value
		p.currentTS = rec.Timestamp
		if p.desiredTS < rec.Timestamp {
			p.desiredTS = rec.Timestamp
		}
	}
	p.mu.Unlock()

	if adopted {
		p.metrics.SetConvergence(rec.Timestamp)
		p.metrics.Reconciliation(metrics.VerdictAdopted)
		if p.cfg.GetMode {
			exit = true
		}
	}

	if rec.Timestamp < desired {
		p.broadcastAlive()
	}

	if c != nil {
		p.sel.PostDisconnect(c)
	}

	return exit
}
