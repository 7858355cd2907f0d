package synchmgr

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// managerTestHooks provides injection points for deterministic testing.
type managerTestHooks struct {
	// WorkerStart is called by StartWorker before the worker goroutine is
	// spawned. A non-nil error fails the start.
	WorkerStart func() error
	// BeforePark is called by a waiting thread after its wait is published,
	// and the global lock released, immediately before it parks.
	BeforePark func(t *Thread)
}

// Manager is the process-wide synchronization context: the object registry,
// the attached threads, and the global lock guarding every waiter list,
// wait descriptor, and ownership ledger.
//
// Lock order: Manager.mu, then at most one parkingChannel.mu, then any
// deferredQueue.mu. Nothing acquires Manager.mu while holding the others.
type Manager struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	mu sync.Mutex

	// shutdownMu serializes Shutdown calls
	shutdownMu sync.Mutex

	opts    *managerOptions
	log     managerLogger
	metrics *Metrics

	handles map[Handle]*objectState
	threads map[ThreadID]*Thread

	worker atomic.Pointer[deferredWorker]

	testHooks *managerTestHooks

	// idle is closed once shutting down with no wait in flight
	idle       chan struct{}
	idleClosed bool

	nextHandle    Handle
	nextObjectID  uint64
	nextThreadID  ThreadID
	registrations int
	inflight      int

	workerStarted bool

	shuttingDown atomic.Bool
	closed       atomic.Bool
}

// New creates a Manager. The deferred signal worker is not running until
// StartWorker is called.
func New(opts ...Option) (*Manager, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		opts:    cfg,
		log:     newManagerLogger(cfg.logger),
		handles: make(map[Handle]*objectState),
		threads: make(map[ThreadID]*Thread),
		idle:    make(chan struct{}),
	}
	if cfg.metricsEnabled {
		m.metrics = newMetrics()
	}
	return m, nil
}

// Metrics returns a snapshot of the runtime metrics, or the zero value if
// WithMetrics was not enabled.
func (m *Manager) Metrics() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// StartWorker spawns the deferred signal worker. It may succeed at most once.
func (m *Manager) StartWorker() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shuttingDown.Load() {
		return opError("StartWorker", InvalidHandle, ErrShuttingDown)
	}
	if m.workerStarted {
		return opError("StartWorker", InvalidHandle, ErrWorkerAlreadyStarted)
	}

	if m.testHooks != nil && m.testHooks.WorkerStart != nil {
		if err := m.testHooks.WorkerStart(); err != nil {
			err = fmt.Errorf("%w: %w", ErrWorkerStartFailed, err)
			m.log.err(logCategoryWorker, err).Log("deferred signal worker failed to start")
			return opError("StartWorker", InvalidHandle, err)
		}
	}

	w := newDeferredWorker(m, m.opts.workerInterval)
	m.workerStarted = true
	m.worker.Store(w)
	go w.run()
	<-w.started

	m.log.info(logCategoryWorker).
		Dur("interval", m.opts.workerInterval).
		Log("deferred signal worker started")
	return nil
}

// PrepareForShutdown stops admitting new waits. Waits already in flight are
// left to complete. It is safe to call more than once.
func (m *Manager) PrepareForShutdown() error {
	if m.closed.Load() {
		return opError("PrepareForShutdown", InvalidHandle, ErrShuttingDown)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shuttingDown.Swap(true) {
		return nil
	}
	m.checkIdleLocked()
	m.log.info(logCategoryShutdown).
		Int("inflight", m.inflight).
		Log("preparing for shutdown")
	return nil
}

// Shutdown stops the manager, joining the deferred signal worker. With
// fullCleanup, every in-flight wait is failed with ErrShuttingDown, and
// once they have returned all channels, ledgers, pending signals, and
// handles are released. Without it, those are left to process teardown.
//
// The context bounds the joins. If it is done first, ctx.Err() is returned
// and Shutdown may be called again to finish. Shutdown may succeed at most
// once.
func (m *Manager) Shutdown(ctx context.Context, fullCleanup bool) error {
	m.shutdownMu.Lock()
	defer m.shutdownMu.Unlock()
	if m.closed.Load() {
		return opError("Shutdown", InvalidHandle, ErrShuttingDown)
	}

	m.mu.Lock()
	if !m.shuttingDown.Swap(true) {
		m.checkIdleLocked()
	}
	m.mu.Unlock()

	if w := m.worker.Load(); w != nil {
		if err := w.stop(ctx); err != nil {
			return err
		}
		m.worker.Store(nil)
		m.log.info(logCategoryWorker).Log("deferred signal worker stopped")
	}

	if !fullCleanup {
		m.closed.Store(true)
		m.log.info(logCategoryShutdown).Bool("full_cleanup", false).Log("shutdown complete")
		return nil
	}

	m.mu.Lock()
	var failed int
	for _, t := range m.threads {
		if t.wait.active && !t.wait.done {
			m.completeWaitLocked(t, WaitOutcome{}, ErrShuttingDown, reasonFailed, true)
			failed++
		}
	}
	m.mu.Unlock()

	if failed != 0 {
		m.log.info(logCategoryShutdown).Int("failed_waits", failed).Log("failed in-flight waits")
	}

	select {
	case <-m.idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	for _, t := range m.threads {
		for _, o := range t.ledger.takeAll() {
			o.kind.Release(t.id)
		}
		t.deferred.clear()
		t.apcs = nil
		t.ch.release()
	}
	for _, o := range m.handles {
		o.destroyed = true
	}
	handles := len(m.handles)
	clear(m.handles)
	m.closed.Store(true)
	m.mu.Unlock()

	m.log.info(logCategoryShutdown).
		Bool("full_cleanup", true).
		Int("handles", handles).
		Log("shutdown complete")
	return nil
}

// checkIdleLocked closes idle if shutting down with nothing in flight.
func (m *Manager) checkIdleLocked() {
	if !m.idleClosed && m.inflight == 0 && m.shuttingDown.Load() {
		m.idleClosed = true
		close(m.idle)
	}
}

// Attach attaches the calling goroutine as a new Thread, locking it to its
// OS thread. The Thread must be detached with Exit, from the same goroutine.
func (m *Manager) Attach() (*Thread, error) {
	if m.shuttingDown.Load() {
		return nil, opError("Attach", InvalidHandle, ErrShuttingDown)
	}

	t := &Thread{m: m}
	t.stage.TryTransition(StageIdle, StageStarting)

	runtime.LockOSThread()

	m.mu.Lock()
	if m.shuttingDown.Load() || (m.opts.maxThreads > 0 && len(m.threads) >= m.opts.maxThreads) {
		err := ErrResourceExhausted
		if m.shuttingDown.Load() {
			err = ErrShuttingDown
		}
		t.stage.TryTransition(StageStarting, StageFailed)
		threads := len(m.threads)
		m.mu.Unlock()
		runtime.UnlockOSThread()
		m.log.err(logCategoryThread, err).
			Int("threads", threads).
			Log("thread failed to start")
		return nil, opError("Attach", InvalidHandle, err)
	}

	m.nextThreadID++
	t.id = m.nextThreadID
	t.termination = m.newObjectLocked(&threadObject{tid: t.id})
	t.handle = m.registerHandleLocked(t.termination)
	t.ch.init()
	t.lockedOS = true
	t.goid = getGoroutineID()
	t.osTID = currentOSThreadID()
	m.threads[t.id] = t
	t.stage.TryTransition(StageStarting, StageRunning)
	m.mu.Unlock()

	m.log.debug(logCategoryThread).
		Uint64("thread", uint64(t.id)).
		Int("os_tid", t.osTID).
		Log("thread attached")
	return t, nil
}

// Go starts fn on a new attached Thread, which exits when fn returns. The
// Thread is returned once attached.
func (m *Manager) Go(fn func(t *Thread)) (*Thread, error) {
	if fn == nil {
		return nil, opError("Go", InvalidHandle, ErrInvalidParameter)
	}
	type attached struct {
		t   *Thread
		err error
	}
	ch := make(chan attached, 1)
	go func() {
		t, err := m.Attach()
		ch <- attached{t, err}
		if err != nil {
			return
		}
		defer t.Exit()
		fn(t)
	}()
	r := <-ch
	return r.t, r.err
}

func (m *Manager) exitThread(t *Thread) error {
	m.mu.Lock()
	if !t.stage.TryTransition(StageRunning, StageDone) {
		m.mu.Unlock()
		return opError("Exit", InvalidHandle, ErrInvalidThreadState)
	}

	if t.wait.active && !t.wait.done {
		m.completeWaitLocked(t, WaitOutcome{}, ErrInvalidThreadState, reasonFailed, true)
	}

	owned := t.ledger.takeAll()
	var abandoned int
	for _, o := range owned {
		if o.kind.OnOwnerTerminated(t.id) {
			abandoned++
			m.fanOutLocked(o)
		}
	}

	if x, ok := t.termination.kind.(*threadObject); ok {
		x.signaled = true
		m.fanOutLocked(t.termination)
	}

	t.apcs = nil
	delete(m.threads, t.id)
	m.mu.Unlock()

	t.deferred.clear()
	t.ch.release()

	if t.lockedOS && t.goid == getGoroutineID() {
		t.lockedOS = false
		runtime.UnlockOSThread()
	}

	if abandoned != 0 {
		m.log.limitedWarning(logCategoryAbandon).
			Uint64("thread", uint64(t.id)).
			Int("mutexes", abandoned).
			Log("thread exited owning mutexes")
	}
	m.log.debug(logCategoryThread).
		Uint64("thread", uint64(t.id)).
		Log("thread exited")
	return nil
}

// checkCaller validates t as the calling thread of op.
func (m *Manager) checkCaller(op string, t *Thread) error {
	if t == nil || t.m != m {
		return opError(op, InvalidHandle, ErrInvalidParameter)
	}
	if m.opts.strictAffinity && t.goid != getGoroutineID() {
		return opError(op, t.handle, ErrWrongThread)
	}
	if t.Stage() != StageRunning {
		return opError(op, t.handle, ErrInvalidThreadState)
	}
	return nil
}

func (m *Manager) newObjectLocked(kind waitable) *objectState {
	m.nextObjectID++
	return &objectState{
		kind:      kind,
		id:        m.nextObjectID,
		ledgerIdx: -1,
	}
}

func (m *Manager) registerHandleLocked(o *objectState) Handle {
	m.nextHandle++
	o.refs++
	m.handles[m.nextHandle] = o
	return m.nextHandle
}

// lookupLocked resolves h to a live object.
func (m *Manager) lookupLocked(h Handle) (*objectState, bool) {
	o, ok := m.handles[h]
	if !ok || o.destroyed {
		return nil, false
	}
	return o, true
}

func (m *Manager) create(op string, kind waitable, owner *Thread) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return InvalidHandle, opError(op, InvalidHandle, ErrShuttingDown)
	}
	o := m.newObjectLocked(kind)
	if owner != nil {
		if owner.Stage() != StageRunning {
			return InvalidHandle, opError(op, InvalidHandle, ErrInvalidThreadState)
		}
		if ok, _ := o.kind.TryClaim(owner.id); ok {
			owner.ledger.add(owner, o)
		}
	}
	return m.registerHandleLocked(o), nil
}

// CreateMutex creates a recursive mutex, initially owned by owner if it is
// non-nil.
func (m *Manager) CreateMutex(owner *Thread) (Handle, error) {
	if owner != nil && owner.m != m {
		return InvalidHandle, opError("CreateMutex", InvalidHandle, ErrInvalidParameter)
	}
	return m.create("CreateMutex", &mutexObject{}, owner)
}

// CreateEvent creates an event. A manual reset event stays signaled until
// reset, releasing every waiter. An auto reset event releases one waiter per
// signal.
func (m *Manager) CreateEvent(manualReset, initial bool) (Handle, error) {
	return m.create("CreateEvent", &eventObject{manualReset: manualReset, signaled: initial}, nil)
}

// CreateSemaphore creates a counting semaphore.
func (m *Manager) CreateSemaphore(initial, maxCount int) (Handle, error) {
	if maxCount <= 0 || initial < 0 || initial > maxCount {
		return InvalidHandle, opError("CreateSemaphore", InvalidHandle, ErrInvalidParameter)
	}
	return m.create("CreateSemaphore", &semaphoreObject{count: initial, max: maxCount}, nil)
}

// DuplicateHandle returns a new handle referencing the same object. The
// object is destroyed once every handle to it has been closed.
func (m *Manager) DuplicateHandle(h Handle) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookupLocked(h)
	if !ok {
		return InvalidHandle, opError("DuplicateHandle", h, ErrInvalidHandle)
	}
	return m.registerHandleLocked(o), nil
}

// CloseHandle releases h. Closing the last handle to an object destroys it,
// completing any waits on it with StatusDestroyed.
func (m *Manager) CloseHandle(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookupLocked(h)
	if !ok {
		return opError("CloseHandle", h, ErrInvalidHandle)
	}
	delete(m.handles, h)
	o.refs--
	if o.refs == 0 {
		m.destroyObjectLocked(o)
	}
	return nil
}

func (m *Manager) destroyObjectLocked(o *objectState) {
	o.destroyed = true
	for o.head != nil {
		r := o.head
		outcome := WaitOutcome{Status: StatusDestroyed, Index: r.index}
		if !m.completeWaitLocked(r.thread, outcome, nil, reasonSucceeded, false) {
			o.unlink(r)
		}
	}
	if o.ledgerOwner != nil {
		o.ledgerOwner.ledger.remove(o)
	}
}

// IsSignaled reports whether the object is currently signaled.
func (m *Manager) IsSignaled(h Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookupLocked(h)
	if !ok {
		return false, opError("IsSignaled", h, ErrInvalidHandle)
	}
	return o.kind.IsSignaled(), nil
}

// WaiterCount returns the number of registrations on the object's waiter list.
func (m *Manager) WaiterCount(h Handle) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookupLocked(h)
	if !ok {
		return 0, opError("WaiterCount", h, ErrInvalidHandle)
	}
	return o.waiters, nil
}

// KindOf returns the kind of the object.
func (m *Manager) KindOf(h Handle) (Kind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookupLocked(h)
	if !ok {
		return 0, opError("KindOf", h, ErrInvalidHandle)
	}
	return o.kind.Kind(), nil
}

// MutexOwner returns the owning thread of a mutex, if owned.
func (m *Manager) MutexOwner(h Handle) (ThreadID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookupLocked(h)
	if !ok {
		return 0, false, opError("MutexOwner", h, ErrInvalidHandle)
	}
	if o.kind.Kind() != KindMutex {
		return 0, false, opError("MutexOwner", h, ErrInvalidTarget)
	}
	tid, owned := o.kind.Owner()
	return tid, owned, nil
}
