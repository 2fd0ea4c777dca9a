// Package ndstest provides the cluster-spawning test harness used by the
// scenario tests in pkg/nds/peer, modeled on the teacher's own test
// package (CreateCluster, WaitThisOrTimeout, PrintStackTrace).
package ndstest

import (
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jabolina/nds/pkg/nds/definition"
	"github.com/jabolina/nds/pkg/nds/metrics"
	"github.com/jabolina/nds/pkg/nds/peer"
)

// synchWindow is shortened relative to spec.md's 2-4s default so the
// scenario tests converge quickly.
const synchWindow = 300 * time.Millisecond

// Daemon wraps a resident peer.Peer spawned on its own goroutine for a
// test, tracking completion so the test can wait for orderly shutdown.
type Daemon struct {
	Peer *peer.Peer
	done chan struct{}
}

// NewDaemon constructs and starts a daemon peer bound to port, joining
// group:mcastPort. Each daemon gets its own Prometheus registry so
// multiple peers can run in the same test process without a duplicate
// collector registration panic.
func NewDaemon(t *testing.T, port int, group string, mcastPort int) *Daemon {
	t.Helper()
	log := definition.NewDefaultLogger()
	log.ToggleDebug(false)
	m := metrics.New(prometheus.NewRegistry())

	cfg := peer.Config{
		ListenPort:     port,
		MulticastGroup: group,
		MulticastPort:  mcastPort,
		Daemon:         true,
		SynchWindow:    synchWindow,
	}
	p, err := peer.New(cfg, log, m)
	if err != nil {
		t.Fatalf("failed constructing daemon peer on port %d: %v", port, err)
	}

	d := &Daemon{Peer: p, done: make(chan struct{})}
	go func() {
		defer close(d.done)
		_, _ = p.Run()
	}()
	return d
}

// Stop requests an orderly shutdown and blocks until the daemon's Run
// call has returned.
func (d *Daemon) Stop() {
	d.Peer.RequestExit()
	<-d.done
}

// RunEphemeral runs a set/get client to completion (spec.md §4.5.6) and
// returns its final value.
func RunEphemeral(t *testing.T, port int, group string, mcastPort int, setValue string, getMode bool) string {
	t.Helper()
	log := definition.NewDefaultLogger()
	log.ToggleDebug(false)
	m := metrics.New(prometheus.NewRegistry())

	cfg := peer.Config{
		ListenPort:     port,
		MulticastGroup: group,
		MulticastPort:  mcastPort,
		SynchWindow:    synchWindow,
		GetMode:        getMode,
	}
	if setValue != "" {
		cfg.HasSetValue = true
		cfg.SetValue = setValue
	}

	p, err := peer.New(cfg, log, m)
	if err != nil {
		t.Fatalf("failed constructing ephemeral peer on port %d: %v", port, err)
	}
	value, err := p.Run()
	if err != nil {
		t.Fatalf("ephemeral peer run failed: %v", err)
	}
	return value
}

// WaitThisOrTimeout runs cb on its own goroutine and reports whether it
// finished before duration elapsed.
func WaitThisOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan struct{})
	go func() {
		cb()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}

// PrintStackTrace dumps every goroutine's stack into the test log, used
// when a cluster fails to shut down within its timeout.
func PrintStackTrace(t *testing.T) {
	t.Helper()
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, true)
	t.Logf("%s", buf[:n])
}
