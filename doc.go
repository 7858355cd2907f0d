// Package synchmgr implements a multi-object wait engine: goroutines wired to
// OS threads block on any combination of up to MaxWaitObjects mutexes,
// events, semaphores, and thread termination objects, waiting for any one or
// for all of them, with a timeout, and optionally interruptible by queued
// callbacks.
//
// # Threads
//
// A Thread is created by Manager.Attach (or Manager.Go), which locks the
// calling goroutine to its OS thread. Threads move through the stages
// Idle, Starting, Running, then Failed or Done. Only a Running thread may
// wait, or be waited for. Thread.Exit abandons every mutex the thread still
// owns: the next claimant receives StatusAbandoned, exactly once.
//
// # Waiting
//
// Manager.WaitForObjects claims the first claimable object of a wait-any, by
// lowest caller index, or every object of a wait-all, atomically.
// Manager.SignalAndWait signals one object and registers a wait on another
// in a single critical section, so the signal cannot be observed before the
// wait exists. Alertable waits, and Manager.AlertableSleep, return
// StatusInterrupted once callbacks queued by Manager.QueueCallback have run.
//
// Every wait is registered against its objects in ascending object id
// order, under a single global lock, and is woken at most once. Wakeups are
// tagged with the wait they belong to, so one for an expired wait is never
// applied to a later wait.
//
// # Deferred signaling
//
// A DeferPolicy (by default, the target is marked with Thread.Suspend)
// decides whether a wakeup is delivered directly or queued on the target.
// Queued wakeups are delivered by the worker started with
// Manager.StartWorker, following Thread.Resume or periodically, or by the
// target itself the next time it parks, or via Thread.DrainPendingSignals.
//
// # Lifecycle
//
//	m, err := synchmgr.New(synchmgr.WithLogger(logger))
//	...
//	err = m.StartWorker()
//	...
//	err = m.PrepareForShutdown() // new waits fail with ErrShuttingDown
//	err = m.Shutdown(ctx, true)  // joins the worker and frees everything
package synchmgr
