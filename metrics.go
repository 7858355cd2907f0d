package synchmgr

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks runtime statistics for a Manager.
// Enabled via WithMetrics. All methods are safe for concurrent use, and safe
// to call on a nil receiver (metrics disabled).
type Metrics struct {
	latency latencyEstimator

	waits          atomic.Uint64
	fastPath       atomic.Uint64
	satisfied      atomic.Uint64
	abandoned      atomic.Uint64
	timedOut       atomic.Uint64
	interrupted    atomic.Uint64
	destroyed      atomic.Uint64
	failed         atomic.Uint64
	signals        atomic.Uint64
	directWakes    atomic.Uint64
	deferredWakes  atomic.Uint64
	overflowWakes  atomic.Uint64
	drainedWakes   atomic.Uint64
	discardedWakes atomic.Uint64
	workerPasses   atomic.Uint64
	callbacks      atomic.Uint64
}

// MetricsSnapshot is a point in time copy of Metrics.
type MetricsSnapshot struct {
	Waits          uint64
	FastPath       uint64
	Satisfied      uint64
	Abandoned      uint64
	TimedOut       uint64
	Interrupted    uint64
	Destroyed      uint64
	Failed         uint64
	Signals        uint64
	DirectWakes    uint64
	DeferredWakes  uint64
	OverflowWakes  uint64
	DrainedWakes   uint64
	DiscardedWakes uint64
	WorkerPasses   uint64
	Callbacks      uint64

	// Blocking wait latency, from park to resume.
	LatencyP50 time.Duration
	LatencyP90 time.Duration
	LatencyP99 time.Duration
	LatencyMax time.Duration
	Blocked    int
}

func newMetrics() *Metrics {
	m := &Metrics{}
	m.latency.init()
	return m
}

// Snapshot returns a copy of the current values.
func (x *Metrics) Snapshot() MetricsSnapshot {
	if x == nil {
		return MetricsSnapshot{}
	}
	s := MetricsSnapshot{
		Waits:          x.waits.Load(),
		FastPath:       x.fastPath.Load(),
		Satisfied:      x.satisfied.Load(),
		Abandoned:      x.abandoned.Load(),
		TimedOut:       x.timedOut.Load(),
		Interrupted:    x.interrupted.Load(),
		Destroyed:      x.destroyed.Load(),
		Failed:         x.failed.Load(),
		Signals:        x.signals.Load(),
		DirectWakes:    x.directWakes.Load(),
		DeferredWakes:  x.deferredWakes.Load(),
		OverflowWakes:  x.overflowWakes.Load(),
		DrainedWakes:   x.drainedWakes.Load(),
		DiscardedWakes: x.discardedWakes.Load(),
		WorkerPasses:   x.workerPasses.Load(),
		Callbacks:      x.callbacks.Load(),
	}
	s.LatencyP50, s.LatencyP90, s.LatencyP99, s.LatencyMax, s.Blocked = x.latency.sample()
	return s
}

func (x *Metrics) recordOutcome(outcome WaitOutcome, err error, fast bool) {
	if x == nil {
		return
	}
	x.waits.Add(1)
	if fast {
		x.fastPath.Add(1)
	}
	if err != nil {
		x.failed.Add(1)
		return
	}
	switch outcome.Status {
	case StatusSatisfied:
		x.satisfied.Add(1)
	case StatusAbandoned:
		x.abandoned.Add(1)
	case StatusTimedOut:
		x.timedOut.Add(1)
	case StatusInterrupted:
		x.interrupted.Add(1)
	case StatusDestroyed:
		x.destroyed.Add(1)
	}
}

func (x *Metrics) recordBlocked(d time.Duration) {
	if x == nil {
		return
	}
	x.latency.record(d)
}

func (x *Metrics) recordSignal() {
	if x == nil {
		return
	}
	x.signals.Add(1)
}

func (x *Metrics) recordWake(deferred, overflow bool) {
	if x == nil {
		return
	}
	switch {
	case !deferred:
		x.directWakes.Add(1)
	case overflow:
		x.deferredWakes.Add(1)
		x.overflowWakes.Add(1)
	default:
		x.deferredWakes.Add(1)
	}
}

func (x *Metrics) recordDeferredDrain(removed, delivered int) {
	if x == nil {
		return
	}
	x.drainedWakes.Add(uint64(delivered))
	x.discardedWakes.Add(uint64(removed - delivered))
}

func (x *Metrics) recordWorkerPass() {
	if x == nil {
		return
	}
	x.workerPasses.Add(1)
}

func (x *Metrics) recordCallbacks(n int) {
	if x == nil {
		return
	}
	x.callbacks.Add(uint64(n))
}

// latencyEstimator tracks blocking wait latency percentiles.
type latencyEstimator struct {
	p50 *pSquareQuantile
	p90 *pSquareQuantile
	p99 *pSquareQuantile
	mu  sync.Mutex
}

func (l *latencyEstimator) init() {
	l.p50 = newPSquareQuantile(0.50)
	l.p90 = newPSquareQuantile(0.90)
	l.p99 = newPSquareQuantile(0.99)
}

func (l *latencyEstimator) record(d time.Duration) {
	v := float64(d)
	l.mu.Lock()
	l.p50.Update(v)
	l.p90.Update(v)
	l.p99.Update(v)
	l.mu.Unlock()
}

func (l *latencyEstimator) sample() (p50, p90, p99, maxLatency time.Duration, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(l.p50.Quantile()),
		time.Duration(l.p90.Quantile()),
		time.Duration(l.p99.Quantile()),
		time.Duration(l.p99.Max()),
		l.p50.count
}
