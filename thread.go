package synchmgr

import (
	"runtime"
	"sync/atomic"
	"time"
)

// ThreadID identifies a Thread within its Manager. Zero is never assigned.
type ThreadID uint64

// Thread is the synchronization state of one attached goroutine, which is
// wired to its OS thread for as long as it is attached.
//
// The wait methods of Manager must only be called with a Thread from the
// goroutine it is attached to, see WithStrictThreadAffinity. Signaling,
// QueueCallback, Suspend and Resume may be used from anywhere.
type Thread struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	m *Manager

	// termination is this thread's KindThread object
	termination *objectState

	// apcs are queued callbacks, guarded by the global lock
	apcs []func()

	ledger   ownershipLedger
	deferred deferredQueue
	ch       parkingChannel
	wait     waitDescriptor

	stage stageState

	id     ThreadID
	handle Handle
	goid   uint64
	osTID  int

	suspended atomic.Bool
	lockedOS  bool
}

// ID returns the thread's identifier.
func (t *Thread) ID() ThreadID { return t.id }

// Handle returns the thread's termination object, which becomes signaled
// when the thread exits. It remains valid until closed.
func (t *Thread) Handle() Handle { return t.handle }

// Stage returns the current lifecycle stage.
func (t *Thread) Stage() ThreadStage { return t.stage.Load() }

// OSThreadID returns the kernel thread id recorded on attach, or 0 where
// the platform does not expose one.
func (t *Thread) OSThreadID() int { return t.osTID }

// Suspend marks the thread as unsafe to resume directly. While marked, the
// default DeferPolicy queues wakeups for this thread instead of delivering
// them.
func (t *Thread) Suspend() {
	t.suspended.Store(true)
}

// Resume clears the Suspend mark, and notifies the deferred signal worker
// that any pending wakeups may now be delivered.
func (t *Thread) Resume() {
	if t.suspended.Swap(false) && t.deferred.hasPending() {
		t.m.notifyResumeSafe(t)
	}
}

// Suspended reports whether Suspend is in effect.
func (t *Thread) Suspended() bool {
	return t.suspended.Load()
}

// DrainPendingSignals applies this thread's deferred wakeups, returning the
// number of entries removed. Intended for the thread's own resume path.
func (t *Thread) DrainPendingSignals() int {
	t.ch.mu.Lock()
	defer t.ch.mu.Unlock()
	return t.drainPendingLocked()
}

// PendingSignals returns the number of deferred wakeups not yet applied.
func (t *Thread) PendingSignals() int {
	return t.deferred.Len()
}

// drainPendingLocked applies pending wakeups. Caller holds t.ch.mu.
func (t *Thread) drainPendingLocked() int {
	if !t.deferred.hasPending() {
		return 0
	}
	var delivered int
	n := t.deferred.drain(func(w pendingWake) {
		if t.ch.signalLocked(w.gen, w.reason) {
			delivered++
		}
	})
	if n != 0 {
		t.m.metrics.recordDeferredDrain(n, delivered)
	}
	return n
}

// park blocks the calling (owning) goroutine on its channel. Pending
// wakeups are applied on the way, unless the defer policy still holds.
func (t *Thread) park(timeout time.Duration) wakeReason {
	return t.ch.park(timeout, func() {
		if !t.m.opts.deferPolicy(t) {
			t.drainPendingLocked()
		}
	})
}

// Exit detaches the thread. Every mutex it still owns is abandoned, handing
// it to the next waiter with StatusAbandoned, and its termination object is
// signaled. Exit must be called from the thread's own goroutine.
func (t *Thread) Exit() error {
	return t.m.exitThread(t)
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
