package synchmgr

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrInvalidHandle is returned when a handle is unknown, or the object it
	// referenced has been destroyed.
	ErrInvalidHandle = errors.New("synchmgr: invalid handle")

	// ErrInvalidThreadState is returned when a thread is not in the Running
	// stage, e.g. it has not finished starting, or it has already exited.
	ErrInvalidThreadState = errors.New("synchmgr: invalid thread state")

	// ErrTooManyObjects is returned when a wait names more than MaxWaitObjects handles.
	ErrTooManyObjects = errors.New("synchmgr: too many wait objects")

	// ErrInvalidParameter is returned for malformed arguments, e.g. an empty handle list.
	ErrInvalidParameter = errors.New("synchmgr: invalid parameter")

	// ErrWorkerStartFailed is returned by StartWorker if the worker could not be started.
	ErrWorkerStartFailed = errors.New("synchmgr: deferred signal worker failed to start")

	// ErrWorkerAlreadyStarted is returned by StartWorker when called more than once.
	ErrWorkerAlreadyStarted = errors.New("synchmgr: deferred signal worker already started")

	// ErrShuttingDown is returned for new waits once PrepareForShutdown has been called.
	ErrShuttingDown = errors.New("synchmgr: manager is shutting down")

	// ErrResourceExhausted is returned when a configured thread or
	// registration limit would be exceeded.
	ErrResourceExhausted = errors.New("synchmgr: resource exhausted")

	// ErrInvalidTarget is returned when an object cannot be signaled by the
	// caller, e.g. releasing a mutex it does not own, or signaling a thread.
	ErrInvalidTarget = errors.New("synchmgr: invalid signal target")

	// ErrNotOwner is returned by ReleaseMutex when the caller does not own the mutex.
	ErrNotOwner = errors.New("synchmgr: mutex not owned by caller")

	// ErrSemaphoreLimit is returned when a release would exceed a semaphore's maximum count.
	ErrSemaphoreLimit = errors.New("synchmgr: semaphore maximum count exceeded")

	// ErrWrongThread is returned, with strict thread affinity enabled, when a
	// Thread is used from a goroutine other than the one it is attached to.
	ErrWrongThread = errors.New("synchmgr: thread used from foreign goroutine")
)

// WaitError records the failed operation, and the cause.
// Use [errors.Is] with the sentinel errors above to classify it.
type WaitError struct {
	Err error
	// Op is the public operation that failed, e.g. "WaitForObjects".
	Op string
	// Handle is the offending handle, if any.
	Handle Handle
}

// Error implements the error interface.
func (e *WaitError) Error() string {
	if e.Handle != InvalidHandle {
		return fmt.Sprintf("%s(handle %d): %v", e.Op, e.Handle, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *WaitError) Unwrap() error {
	return e.Err
}

func opError(op string, h Handle, err error) error {
	return &WaitError{Op: op, Handle: h, Err: err}
}
