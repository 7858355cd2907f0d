package synchmgr

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferred_DeliveredByWorkerAfterResume(t *testing.T) {
	m := newTestManager(t, WithMetrics(true), WithWorkerInterval(5*time.Millisecond))
	require.NoError(t, m.StartWorker())
	ev := mustEvent(t, m, false, false)

	var outcome WaitOutcome
	var werr error
	th, done := spawn(t, m, func(th *Thread) {
		outcome, werr = m.WaitForObject(th, ev, Infinite)
	})
	waitForWaiters(t, m, ev, 1)

	th.Suspend()
	require.True(t, th.Suspended())
	require.NoError(t, m.SetEvent(ev))
	assert.Equal(t, 1, th.PendingSignals())

	n, err := m.WaiterCount(ev)
	require.NoError(t, err)
	assert.Zero(t, n, "registrations are removed when the wait is satisfied, not when woken")

	requireBlocked(t, done, 50*time.Millisecond)
	assert.Equal(t, 1, th.PendingSignals(), "the worker skips suspended threads")

	th.Resume()
	awaitDone(t, done)
	require.NoError(t, werr)
	assert.Equal(t, StatusSatisfied, outcome.Status)
	assert.Zero(t, th.PendingSignals())

	s := m.Metrics()
	assert.Equal(t, uint64(1), s.DeferredWakes)
	assert.Equal(t, uint64(1), s.DrainedWakes)
	assert.Zero(t, s.DirectWakes)
	assert.Positive(t, s.WorkerPasses)
}

func TestDeferred_ResumeWithoutWorkerDrainsDirectly(t *testing.T) {
	m := newTestManager(t)
	ev := mustEvent(t, m, false, false)

	var outcome WaitOutcome
	th, done := spawn(t, m, func(th *Thread) {
		outcome, _ = m.WaitForObject(th, ev, Infinite)
	})
	waitForWaiters(t, m, ev, 1)

	th.Suspend()
	require.NoError(t, m.SetEvent(ev))
	requireBlocked(t, done, 20*time.Millisecond)

	th.Resume()
	awaitDone(t, done)
	assert.Equal(t, StatusSatisfied, outcome.Status)
}

func TestDeferred_TimeoutKeepsCompletedOutcome(t *testing.T) {
	m := newTestManager(t)
	ev := mustEvent(t, m, false, false)

	var outcome WaitOutcome
	waited := make(chan struct{})
	finish := make(chan struct{})
	th, done := spawn(t, m, func(th *Thread) {
		outcome, _ = m.WaitForObject(th, ev, 100*time.Millisecond)
		close(waited)
		<-finish
	})
	waitForWaiters(t, m, ev, 1)

	th.Suspend()
	require.NoError(t, m.SetEvent(ev))
	awaitDone(t, waited)
	assert.Equal(t, StatusSatisfied, outcome.Status, "the wait completed before it timed out")

	assert.Equal(t, 1, th.PendingSignals())
	assert.Equal(t, 1, th.DrainPendingSignals())
	assert.Zero(t, th.PendingSignals())

	close(finish)
	awaitDone(t, done)
}

func TestDeferred_CustomPolicyDeliveredPeriodically(t *testing.T) {
	var hold atomic.Bool
	hold.Store(true)
	m := newTestManager(t,
		WithWorkerInterval(2*time.Millisecond),
		WithDeferPolicy(func(*Thread) bool { return hold.Load() }),
	)
	require.NoError(t, m.StartWorker())
	ev := mustEvent(t, m, false, false)

	var outcome WaitOutcome
	_, done := spawn(t, m, func(th *Thread) {
		outcome, _ = m.WaitForObject(th, ev, Infinite)
	})
	waitForWaiters(t, m, ev, 1)

	require.NoError(t, m.SetEvent(ev))
	requireBlocked(t, done, 20*time.Millisecond)

	hold.Store(false)
	awaitDone(t, done)
	assert.Equal(t, StatusSatisfied, outcome.Status)
}

func TestDeferred_OverflowIsDeliveredInOrder(t *testing.T) {
	m := newTestManager(t, WithMetrics(true))
	th := &Thread{m: m}
	th.ch.init()

	const total = pendingInlineSize + 5
	for gen := range uint64(total) {
		th.wait.gen = gen + 1
		m.deliverLocked(th, reasonSucceeded, false)
	}
	assert.Zero(t, th.PendingSignals(), "not suspended, delivered directly")

	th.Suspend()
	for gen := range uint64(total) {
		th.wait.gen = gen + 1
		m.deliverLocked(th, reasonSucceeded, false)
	}
	require.Equal(t, total, th.PendingSignals())

	th.ch.prepare(total)
	assert.Equal(t, total, th.DrainPendingSignals())
	assert.True(t, th.ch.pred, "the entry for the armed wait was delivered")

	s := m.Metrics()
	assert.Equal(t, uint64(total), s.DirectWakes)
	assert.Equal(t, uint64(total), s.DeferredWakes)
	assert.Equal(t, uint64(5), s.OverflowWakes)
	assert.Equal(t, uint64(1), s.DrainedWakes)
	assert.Equal(t, uint64(total-1), s.DiscardedWakes)
}

func TestDeferred_ShutdownDeliversDirectly(t *testing.T) {
	m := newTestManager(t)
	ev := mustEvent(t, m, false, false)

	var werr error
	th, done := spawn(t, m, func(th *Thread) {
		_, werr = m.WaitForObject(th, ev, Infinite)
	})
	waitForWaiters(t, m, ev, 1)
	th.Suspend()

	ctx, cancel := testContext()
	defer cancel()
	require.NoError(t, m.Shutdown(ctx, true))
	awaitDone(t, done)
	assert.ErrorIs(t, werr, ErrShuttingDown)
}

func TestWorker_ReceiveBatches(t *testing.T) {
	w := newDeferredWorker(nil, time.Hour)
	a, b := &Thread{}, &Thread{}
	w.post(a)
	w.post(b)

	batch, stopped := w.receive(make([]*Thread, 0, maxNotifyBatch))
	assert.False(t, stopped)
	assert.Equal(t, []*Thread{a, b}, batch)

	for range notifyBuffer + 10 {
		w.post(a)
	}
	batch, _ = w.receive(make([]*Thread, 0, maxNotifyBatch))
	assert.Len(t, batch, maxNotifyBatch, "bounded by the batch capacity")

	w = newDeferredWorker(nil, time.Hour)
	close(w.quit)
	_, stopped = w.receive(make([]*Thread, 0, 1))
	assert.True(t, stopped)
}

func TestWorker_ReceiveTimesOut(t *testing.T) {
	w := newDeferredWorker(nil, time.Millisecond)
	batch, stopped := w.receive(nil)
	assert.False(t, stopped)
	assert.Empty(t, batch)
}

func TestDeferred_ResumeDuringDeferDecisionIsNotLost(t *testing.T) {
	var armed atomic.Bool
	deciding := make(chan struct{})
	decide := make(chan struct{})
	m := newTestManager(t, WithDeferPolicy(func(th *Thread) bool {
		suspended := th.Suspended()
		if suspended && armed.CompareAndSwap(true, false) {
			close(deciding)
			<-decide
		}
		return suspended
	}))
	ev := mustEvent(t, m, false, false)

	var outcome WaitOutcome
	var werr error
	th, done := spawn(t, m, func(th *Thread) {
		outcome, werr = m.WaitForObject(th, ev, Infinite)
	})
	waitForWaiters(t, m, ev, 1)

	th.Suspend()
	armed.Store(true)
	signaled := make(chan error, 1)
	go func() { signaled <- m.SetEvent(ev) }()

	awaitDone(t, deciding)
	th.Resume()
	assert.Zero(t, th.PendingSignals(), "nothing queued yet, so Resume has nothing to deliver")
	close(decide)

	require.NoError(t, <-signaled)
	awaitDone(t, done)
	require.NoError(t, werr)
	assert.Equal(t, StatusSatisfied, outcome.Status)
	assert.Zero(t, th.PendingSignals())
}
