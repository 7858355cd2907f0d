package synchmgr

import (
	"errors"
	"fmt"
)

// SetEvent signals an event.
func (m *Manager) SetEvent(h Handle) error {
	return m.signalKind("SetEvent", nil, h, KindEvent)
}

// Reset clears the signaled state of an event. Other kinds have no reset
// operation, and fail with ErrInvalidTarget.
func (m *Manager) Reset(h Handle) error {
	return m.reset("Reset", h)
}

// ResetEvent is Reset, for symmetry with SetEvent.
func (m *Manager) ResetEvent(h Handle) error {
	return m.reset("ResetEvent", h)
}

func (m *Manager) reset(op string, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookupLocked(h)
	if !ok {
		return opError(op, h, ErrInvalidHandle)
	}
	x, ok := o.kind.(*eventObject)
	if !ok {
		return opError(op, h, ErrInvalidTarget)
	}
	x.reset()
	return nil
}

// ReleaseMutex releases one level of t's ownership of a mutex. Releasing the
// last level hands the mutex to the next eligible waiter.
func (m *Manager) ReleaseMutex(t *Thread, h Handle) error {
	if err := m.checkCaller("ReleaseMutex", t); err != nil {
		return err
	}
	return m.signalKind("ReleaseMutex", t, h, KindMutex)
}

// ReleaseSemaphore adds n to a semaphore's count, returning the previous
// count. The count is unchanged if it would exceed the maximum.
func (m *Manager) ReleaseSemaphore(h Handle, n int) (int, error) {
	if n <= 0 {
		return 0, opError("ReleaseSemaphore", h, ErrInvalidParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookupLocked(h)
	if !ok {
		return 0, opError("ReleaseSemaphore", h, ErrInvalidHandle)
	}
	x, ok := o.kind.(*semaphoreObject)
	if !ok {
		return 0, opError("ReleaseSemaphore", h, ErrInvalidTarget)
	}
	prev, ok := x.release(n)
	if !ok {
		return prev, opError("ReleaseSemaphore", h, ErrSemaphoreLimit)
	}
	m.metrics.recordSignal()
	m.fanOutLocked(o)
	return prev, nil
}

// Signal applies the kind's signal operation: set for an event, release a
// unit for a semaphore, release a level for a mutex owned by t. Thread
// objects cannot be signaled. The thread may be nil unless h is a mutex.
func (m *Manager) Signal(t *Thread, h Handle) error {
	if t != nil {
		if err := m.checkCaller("Signal", t); err != nil {
			return err
		}
	}
	return m.signalKind("Signal", t, h, 0)
}

// SignalObjects signals every handle within one locked section. Waiters are
// evaluated once all signals are applied, so a wait-any waiter on several
// of them reports its lowest index. On failure the signals preceding the
// failing handle remain applied.
func (m *Manager) SignalObjects(t *Thread, handles ...Handle) error {
	if len(handles) == 0 || len(handles) > MaxWaitObjects {
		return opError("SignalObjects", InvalidHandle, ErrInvalidParameter)
	}
	if t != nil {
		if err := m.checkCaller("SignalObjects", t); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var objs [MaxWaitObjects]*objectState
	for i, h := range handles {
		o, ok := m.lookupLocked(h)
		if !ok {
			return opError("SignalObjects", h, ErrInvalidHandle)
		}
		objs[i] = o
	}

	var err error
	n := 0
	for i, o := range objs[:len(handles)] {
		if err = m.applySignalLocked(t, o); err != nil {
			err = opError("SignalObjects", handles[i], err)
			break
		}
		n++
	}
	for _, o := range objs[:n] {
		m.fanOutLocked(o)
	}
	return err
}

// signalKind signals h, requiring the given kind unless it is zero.
func (m *Manager) signalKind(op string, t *Thread, h Handle, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookupLocked(h)
	if !ok {
		return opError(op, h, ErrInvalidHandle)
	}
	if kind != 0 && o.kind.Kind() != kind {
		return opError(op, h, ErrInvalidTarget)
	}
	if err := m.applySignalLocked(t, o); err != nil {
		return opError(op, h, err)
	}
	m.fanOutLocked(o)
	return nil
}

// applySignalLocked applies the signal operation of o, without waking
// anything.
func (m *Manager) applySignalLocked(t *Thread, o *objectState) error {
	var tid ThreadID
	if t != nil {
		tid = t.id
	}
	if !o.kind.TrySignal(tid) {
		switch o.kind.Kind() {
		case KindMutex:
			return ErrNotOwner
		case KindSemaphore:
			return ErrSemaphoreLimit
		default:
			return ErrInvalidTarget
		}
	}
	if _, owned := o.kind.Owner(); !owned && o.ledgerOwner != nil {
		o.ledgerOwner.ledger.remove(o)
	}
	m.metrics.recordSignal()
	return nil
}

// signalTargetError classifies a failure to apply the signal half of
// SignalAndWait.
func signalTargetError(err error) error {
	if errors.Is(err, ErrInvalidTarget) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInvalidTarget, err)
}

// fanOutLocked walks the waiter list of o, front to back, satisfying every
// waiter it can until o is no longer signaled.
func (m *Manager) fanOutLocked(o *objectState) {
	r := o.head
	for r != nil && o.kind.IsSignaled() {
		next := r.next
		if m.trySatisfyLocked(r.thread) && next != nil && !next.linked {
			// a duplicate registration of the same wait was unlinked
			next = o.head
		}
		r = next
	}
}

// trySatisfyLocked completes t's wait if it can now be satisfied.
func (m *Manager) trySatisfyLocked(t *Thread) bool {
	d := &t.wait
	if !d.active || d.done {
		return false
	}
	outcome, ok := m.evaluateLocked(t)
	if !ok {
		return false
	}
	return m.completeWaitLocked(t, outcome, nil, reasonSucceeded, false)
}

// evaluateLocked claims the objects of t's wait, if it can be satisfied.
// Nothing is claimed otherwise.
func (m *Manager) evaluateLocked(t *Thread) (WaitOutcome, bool) {
	d := &t.wait
	if d.count == 0 {
		return WaitOutcome{}, false
	}

	if !d.waitAll {
		for i := range d.count {
			o := d.regs[i].obj
			if !o.kind.Claimable(t.id, 1) {
				continue
			}
			status := StatusSatisfied
			if m.claimLocked(t, o) {
				status = StatusAbandoned
			}
			return WaitOutcome{Indices: []int{i}, Index: i, Status: status}, true
		}
		return WaitOutcome{}, false
	}

	// duplicates are adjacent in id order, and must all be claimable
	var credits, run int
	var prev *objectState
	for r := range d.ordered {
		if r.obj == prev {
			run++
		} else {
			prev, run = r.obj, 1
		}
		if r.obj.kind.Claimable(t.id, run) {
			credits++
		}
	}
	if credits != d.count {
		return WaitOutcome{}, false
	}

	outcome := WaitOutcome{Status: StatusSatisfied, Indices: make([]int, d.count)}
	abandonedAt := -1
	for r := range d.ordered {
		if m.claimLocked(t, r.obj) && (abandonedAt < 0 || r.index < abandonedAt) {
			abandonedAt = r.index
		}
	}
	for i := range outcome.Indices {
		outcome.Indices[i] = i
	}
	if abandonedAt >= 0 {
		outcome.Status = StatusAbandoned
		outcome.Index = abandonedAt
	}
	return outcome, true
}

// claimLocked claims o for t, recording ownership. It reports whether the
// claim observed an abandonment.
func (m *Manager) claimLocked(t *Thread, o *objectState) bool {
	ok, abandoned := o.kind.TryClaim(t.id)
	if !ok {
		panic(fmt.Sprintf("synchmgr: claim of claimable %s object %d failed", o.kind.Kind(), o.id))
	}
	if owner, owned := o.kind.Owner(); owned && owner == t.id {
		t.ledger.add(t, o)
	}
	return abandoned
}

// completeWaitLocked records the result of t's wait, removes all of its
// registrations, and wakes it. Direct bypasses the defer policy.
func (m *Manager) completeWaitLocked(t *Thread, outcome WaitOutcome, err error, reason wakeReason, direct bool) bool {
	d := &t.wait
	if !d.complete(outcome, err) {
		return false
	}
	m.unlinkAllLocked(d)
	m.deliverLocked(t, reason, direct)
	return true
}

func (m *Manager) unlinkAllLocked(d *waitDescriptor) {
	for r := range d.ordered {
		if r.linked {
			r.obj.unlink(r)
		}
	}
}

// deliverLocked wakes t for its current wait, or queues the wakeup if the
// defer policy says t cannot be resumed directly.
func (m *Manager) deliverLocked(t *Thread, reason wakeReason, direct bool) {
	w := pendingWake{gen: t.wait.gen, reason: reason}
	if !direct && m.opts.deferPolicy(t) {
		overflow := t.deferred.push(w)
		m.metrics.recordWake(true, overflow)
		if overflow {
			m.log.limitedWarning(logCategoryOverflow).
				Uint64("thread", uint64(t.id)).
				Int("pending", int(t.deferred.pending.Load())).
				Log("deferred signals overflowed inline slots")
		}
		// Resume may have run after the policy check, and before the push
		if !m.opts.deferPolicy(t) {
			m.notifyResumeSafe(t)
		}
		return
	}
	t.ch.signal(w.gen, w.reason)
	m.metrics.recordWake(false, false)
}
