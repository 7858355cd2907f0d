package synchmgr

import (
	"context"
	"sync"
	"time"
)

const (
	// notifyBuffer bounds queued resume-safe notifications. Dropped
	// notifications are covered by the periodic sweep.
	notifyBuffer = 64

	// maxNotifyBatch is the most notifications handled per pass.
	maxNotifyBatch = 16
)

// deferredWorker delivers wakeups that were queued while their target could
// not be resumed directly.
//
// Each pass handles the batch of resume-safe notifications received since
// the last, then sweeps every thread with pending entries. A target whose
// channel is contended is skipped, and retried on the next pass.
type deferredWorker struct {
	m        *Manager
	notify   chan *Thread
	quit     chan struct{}
	started  chan struct{}
	done     chan struct{}
	interval time.Duration
	stopOnce sync.Once
}

func newDeferredWorker(m *Manager, interval time.Duration) *deferredWorker {
	return &deferredWorker{
		m:        m,
		notify:   make(chan *Thread, notifyBuffer),
		quit:     make(chan struct{}),
		started:  make(chan struct{}),
		done:     make(chan struct{}),
		interval: interval,
	}
}

func (w *deferredWorker) run() {
	defer close(w.done)
	close(w.started)

	batch := make([]*Thread, 0, maxNotifyBatch)
	var sweep []*Thread
	for {
		var stopped bool
		batch, stopped = w.receive(batch[:0])
		for _, t := range batch {
			w.drain(t)
		}
		sweep = w.m.pendingThreads(sweep[:0])
		for _, t := range sweep {
			w.drain(t)
		}
		clear(sweep)
		w.m.metrics.recordWorkerPass()
		if stopped {
			return
		}
	}
}

// receive waits up to the interval for the first notification, then takes
// whatever else is immediately available, up to the batch capacity.
func (w *deferredWorker) receive(batch []*Thread) ([]*Thread, bool) {
	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	select {
	case <-w.quit:
		return batch, true
	case <-timer.C:
		return batch, false
	case t := <-w.notify:
		batch = append(batch, t)
	}

	for len(batch) < cap(batch) {
		select {
		case <-w.quit:
			return batch, true
		case t := <-w.notify:
			batch = append(batch, t)
		default:
			return batch, false
		}
	}
	return batch, false
}

// drain delivers t's pending wakeups, unless it must still be deferred, or
// its channel is busy.
func (w *deferredWorker) drain(t *Thread) {
	if !t.deferred.hasPending() || w.m.opts.deferPolicy(t) {
		return
	}
	if !t.ch.mu.TryLock() {
		return
	}
	t.drainPendingLocked()
	t.ch.mu.Unlock()
}

// post is a non-blocking resume-safe notification.
func (w *deferredWorker) post(t *Thread) {
	select {
	case w.notify <- t:
	default:
	}
}

func (w *deferredWorker) stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.quit) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pendingThreads appends every attached thread with deferred wakeups.
func (m *Manager) pendingThreads(dst []*Thread) []*Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.threads {
		if t.deferred.hasPending() {
			dst = append(dst, t)
		}
	}
	return dst
}

// notifyResumeSafe tells the worker t may be resumed. Without a running
// worker, t's pending wakeups are delivered by the caller.
func (m *Manager) notifyResumeSafe(t *Thread) {
	if w := m.worker.Load(); w != nil {
		w.post(t)
		return
	}
	if !m.opts.deferPolicy(t) {
		t.DrainPendingSignals()
	}
}
