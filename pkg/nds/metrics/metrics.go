// Package metrics instruments the selector and peer with Prometheus
// counters and gauges, replacing the teacher's unused prometheus/common/log
// import with the maintained client_golang metrics client (SPEC_FULL.md §0.2).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconciliationVerdict labels how the peer handled an inbound heartbeat.
type ReconciliationVerdict string

const (
	VerdictIgnored   ReconciliationVerdict = "ignored"
	VerdictReplied   ReconciliationVerdict = "replied"
	VerdictConnected ReconciliationVerdict = "connected"
	VerdictAdopted   ReconciliationVerdict = "adopted"
)

// Metrics bundles every collector this module registers. A nil *Metrics is
// valid and every method becomes a no-op, so components can be instantiated
// without metrics wired (e.g. in unit tests) without nil-checking at every
// call site.
type Metrics struct {
	selectorReadyLoops   prometheus.Counter
	selectorRegistrySize *prometheus.GaugeVec
	peerReconciliations  *prometheus.CounterVec
	peerConvergence      prometheus.Gauge
}

// New registers a fresh set of collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		selectorReadyLoops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nds",
			Subsystem: "selector",
			Name:      "ready_loops_total",
			Help:      "Number of times the readiness loop returned from its blocking wait.",
		}),
		selectorRegistrySize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nds",
			Subsystem: "selector",
			Name:      "registry_size",
			Help:      "Number of connections tracked per registry.",
		}, []string{"registry"}),
		peerReconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nds",
			Subsystem: "peer",
			Name:      "reconciliations_total",
			Help:      "Number of reconciliation decisions made, by verdict.",
		}, []string{"verdict"}),
		peerConvergence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nds",
			Subsystem: "peer",
			Name:      "current_timestamp",
			Help:      "This peer's current_ts value.",
		}),
	}
	reg.MustRegister(m.selectorReadyLoops, m.selectorRegistrySize, m.peerReconciliations, m.peerConvergence)
	return m
}

func (m *Metrics) ReadyLoop() {
	if m == nil {
		return
	}
	m.selectorReadyLoops.Inc()
}

func (m *Metrics) SetRegistrySize(registry string, size int) {
	if m == nil {
		return
	}
	m.selectorRegistrySize.WithLabelValues(registry).Set(float64(size))
}

func (m *Metrics) Reconciliation(verdict ReconciliationVerdict) {
	if m == nil {
		return
	}
	m.peerReconciliations.WithLabelValues(string(verdict)).Inc()
}

func (m *Metrics) SetConvergence(ts uint32) {
	if m == nil {
		return
	}
	m.peerConvergence.Set(float64(ts))
}
