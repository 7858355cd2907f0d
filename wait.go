package synchmgr

import (
	"runtime"
	"time"
)

// WaitOption configures a single wait.
type WaitOption interface {
	applyWait(*waitOptions)
}

type waitOptions struct {
	prioritize bool
}

type waitOptionImpl struct {
	applyWaitFunc func(*waitOptions)
}

func (o *waitOptionImpl) applyWait(opts *waitOptions) {
	o.applyWaitFunc(opts)
}

// WithPrioritize inserts the wait's registrations at the head of each
// object's waiter list, rather than the tail, so it is served ahead of
// waiters already queued.
func WithPrioritize() WaitOption {
	return &waitOptionImpl{func(opts *waitOptions) {
		opts.prioritize = true
	}}
}

// waitRequest is one call into the wait engine.
type waitRequest struct {
	// signal is applied, if set, in the same critical section the wait is
	// published in
	signal func() error

	op         string
	handles    []Handle
	timeout    time.Duration
	kind       waitKind
	waitAll    bool
	alertable  bool
	prioritize bool
}

// WaitForObjects blocks t until any (or, with waitAll, every) object is
// signaled, the timeout elapses, or, if alertable, a callback is queued to
// t. A zero timeout polls, and Infinite never elapses.
//
// Objects claimed by a satisfied wait (mutex ownership, semaphore units,
// auto reset events) are consumed atomically: for waitAll either all or
// none. Duplicate handles are independent registrations.
func (m *Manager) WaitForObjects(t *Thread, handles []Handle, waitAll bool, timeout time.Duration, alertable bool, opts ...WaitOption) (WaitOutcome, error) {
	var wo waitOptions
	for _, opt := range opts {
		if opt != nil {
			opt.applyWait(&wo)
		}
	}
	return m.wait(t, &waitRequest{
		op:         "WaitForObjects",
		handles:    handles,
		timeout:    timeout,
		kind:       waitMultiple,
		waitAll:    waitAll,
		alertable:  alertable,
		prioritize: wo.prioritize,
	})
}

// WaitForObject waits for a single object, non-alertably.
func (m *Manager) WaitForObject(t *Thread, h Handle, timeout time.Duration) (WaitOutcome, error) {
	return m.wait(t, &waitRequest{
		op:      "WaitForObject",
		handles: []Handle{h},
		timeout: timeout,
		kind:    waitSingle,
	})
}

// SignalAndWait signals one object and waits on another, atomically: no
// other thread can observe the signal before the wait is registered.
//
// The signal fails the call with ErrInvalidTarget if signal cannot be
// signaled by t, e.g. a mutex t does not own, or a thread object. Once
// applied, the signal stands, even if the wait is interrupted by a callback
// or fails.
func (m *Manager) SignalAndWait(t *Thread, signal, wait Handle, timeout time.Duration, alertable bool) (WaitOutcome, error) {
	req := &waitRequest{
		op:        "SignalAndWait",
		handles:   []Handle{wait},
		timeout:   timeout,
		kind:      waitSingle,
		alertable: alertable,
	}
	req.signal = func() error {
		o, ok := m.lookupLocked(signal)
		if !ok {
			return opError(req.op, signal, ErrInvalidHandle)
		}
		if err := m.applySignalLocked(t, o); err != nil {
			return opError(req.op, signal, signalTargetError(err))
		}
		m.fanOutLocked(o)
		return nil
	}
	return m.wait(t, req)
}

// AlertableSleep sleeps t for the timeout, returning early once callbacks
// queued to t have run.
func (m *Manager) AlertableSleep(t *Thread, timeout time.Duration) (SleepResult, error) {
	return m.Sleep(t, timeout, true)
}

// Sleep sleeps t for the timeout. If alertable, queued callbacks end the
// sleep early, after they have run on t.
func (m *Manager) Sleep(t *Thread, timeout time.Duration, alertable bool) (SleepResult, error) {
	outcome, err := m.wait(t, &waitRequest{
		op:        "Sleep",
		timeout:   timeout,
		kind:      waitSingle,
		alertable: alertable,
	})
	if err != nil {
		return 0, err
	}
	if outcome.Status == StatusInterrupted {
		return SleepInterrupted, nil
	}
	return SleepCompleted, nil
}

// QueueCallback queues fn to run on target's goroutine, the next time it is
// in, or enters, an alertable wait or sleep. Callbacks run in queue order.
func (m *Manager) QueueCallback(target *Thread, fn func()) error {
	if target == nil || target.m != m || fn == nil {
		return opError("QueueCallback", InvalidHandle, ErrInvalidParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if target.Stage() != StageRunning {
		return opError("QueueCallback", target.handle, ErrInvalidThreadState)
	}
	target.apcs = append(target.apcs, fn)
	if d := &target.wait; d.active && d.alertable && !d.done {
		m.completeWaitLocked(target, WaitOutcome{Status: StatusInterrupted}, nil, reasonAlerted, false)
	}
	return nil
}

// wait is the engine shared by every wait operation.
func (m *Manager) wait(t *Thread, req *waitRequest) (WaitOutcome, error) {
	if err := m.checkCaller(req.op, t); err != nil {
		return WaitOutcome{}, err
	}
	if len(req.handles) > MaxWaitObjects {
		return WaitOutcome{}, opError(req.op, InvalidHandle, ErrTooManyObjects)
	}
	if len(req.handles) == 0 && req.kind == waitMultiple {
		return WaitOutcome{}, opError(req.op, InvalidHandle, ErrInvalidParameter)
	}
	if req.timeout < 0 && req.timeout != Infinite {
		return WaitOutcome{}, opError(req.op, InvalidHandle, ErrInvalidParameter)
	}

	var objs [MaxWaitObjects]*objectState
	n := len(req.handles)

	for attempt := 0; ; attempt++ {
		m.mu.Lock()
		if err := m.admitLocked(t, req, objs[:n]); err != nil {
			m.mu.Unlock()
			return WaitOutcome{}, err
		}

		if req.signal != nil {
			err := req.signal()
			req.signal = nil
			if err != nil {
				m.mu.Unlock()
				return WaitOutcome{}, err
			}
		}

		if req.alertable && len(t.apcs) != 0 {
			apcs := t.takeCallbacksLocked()
			m.mu.Unlock()
			m.runCallbacks(apcs)
			outcome := WaitOutcome{Status: StatusInterrupted}
			m.metrics.recordOutcome(outcome, nil, true)
			return outcome, nil
		}

		d := &t.wait
		d.begin(t, objs[:n], req.kind, req.waitAll, req.alertable)

		outcome, ok := m.evaluateLocked(t)
		if !ok && req.timeout == 0 {
			outcome, ok = WaitOutcome{Status: StatusTimedOut}, true
		}
		if ok {
			d.end()
			m.mu.Unlock()
			m.metrics.recordOutcome(outcome, nil, true)
			return outcome, nil
		}

		if m.reserveLocked(n) {
			return m.block(t, req, n)
		}
		d.end()
		m.mu.Unlock()

		if attempt != 0 {
			m.log.limitedWarning(logCategoryExhausted).
				Uint64("thread", uint64(t.id)).
				Int("registrations", n).
				Log("registration limit reached")
			return WaitOutcome{}, opError(req.op, InvalidHandle, ErrResourceExhausted)
		}
		// the signal, if any, stays applied
		runtime.Gosched()
	}
}

// admitLocked validates the wait under the global lock, resolving handles
// into objs.
func (m *Manager) admitLocked(t *Thread, req *waitRequest, objs []*objectState) error {
	if m.shuttingDown.Load() {
		return opError(req.op, InvalidHandle, ErrShuttingDown)
	}
	if t.Stage() != StageRunning || t.wait.active {
		return opError(req.op, t.handle, ErrInvalidThreadState)
	}
	for i, h := range req.handles {
		o, ok := m.lookupLocked(h)
		if !ok {
			return opError(req.op, h, ErrInvalidHandle)
		}
		objs[i] = o
	}
	return nil
}

// reserveLocked claims budget for n registrations.
func (m *Manager) reserveLocked(n int) bool {
	if limit := m.opts.maxRegistrations; limit > 0 && m.registrations+n > limit {
		return false
	}
	m.registrations += n
	return true
}

// block links t's registrations, publishes the wait, and parks. It is
// entered with the global lock held, and returns with it released.
func (m *Manager) block(t *Thread, req *waitRequest, reserved int) (WaitOutcome, error) {
	d := &t.wait
	for r := range d.ordered {
		r.obj.link(r, req.prioritize)
	}
	t.ch.prepare(d.gen)
	m.inflight++
	m.mu.Unlock()

	if m.testHooks != nil && m.testHooks.BeforePark != nil {
		m.testHooks.BeforePark(t)
	}

	start := time.Now()
	t.park(req.timeout)
	m.metrics.recordBlocked(time.Since(start))

	m.mu.Lock()
	if !d.done {
		d.complete(WaitOutcome{Status: StatusTimedOut}, nil)
		m.unlinkAllLocked(d)
	}
	outcome, err := d.outcome, d.err
	d.end()
	m.registrations -= reserved
	m.inflight--
	m.checkIdleLocked()
	var apcs []func()
	if err == nil && outcome.Status == StatusInterrupted {
		apcs = t.takeCallbacksLocked()
	}
	m.mu.Unlock()

	m.runCallbacks(apcs)
	m.metrics.recordOutcome(outcome, err, false)
	if err != nil {
		return WaitOutcome{}, opError(req.op, InvalidHandle, err)
	}
	return outcome, nil
}

func (m *Manager) runCallbacks(apcs []func()) {
	if len(apcs) == 0 {
		return
	}
	for _, fn := range apcs {
		fn()
	}
	m.metrics.recordCallbacks(len(apcs))
}

// takeCallbacksLocked removes every queued callback.
func (t *Thread) takeCallbacksLocked() []func() {
	apcs := t.apcs
	t.apcs = nil
	return apcs
}
