package synchmgr

import (
	"fmt"
	"time"
)

// Infinite is a timeout that never elapses.
const Infinite time.Duration = -1

// WaitStatus classifies a completed wait.
type WaitStatus uint8

const (
	// StatusSatisfied indicates the wait was satisfied. Any ownable objects
	// named by Indices are now owned by the caller.
	StatusSatisfied WaitStatus = iota + 1
	// StatusAbandoned indicates the wait was satisfied, and at least one
	// mutex it claimed had been abandoned by a terminated owner. The caller
	// owns the mutex. Index is the lowest abandoned index.
	StatusAbandoned
	// StatusTimedOut indicates the timeout elapsed first.
	StatusTimedOut
	// StatusInterrupted indicates an alertable wait was ended so that queued
	// callbacks could run. They have run by the time the wait returns.
	StatusInterrupted
	// StatusDestroyed indicates the object at Index was destroyed while
	// waited on. Nothing was claimed.
	StatusDestroyed
)

// String returns a human-readable representation of the status.
func (s WaitStatus) String() string {
	switch s {
	case StatusSatisfied:
		return "Satisfied"
	case StatusAbandoned:
		return "Abandoned"
	case StatusTimedOut:
		return "TimedOut"
	case StatusInterrupted:
		return "Interrupted"
	case StatusDestroyed:
		return "Destroyed"
	default:
		return fmt.Sprintf("WaitStatus(%d)", uint8(s))
	}
}

// WaitOutcome is the result of a wait that did not fail.
type WaitOutcome struct {
	// Indices lists every claimed caller index, ascending: the single
	// satisfying index of a wait-any, or every index of a wait-all.
	Indices []int
	// Index is the lowest satisfying caller index for wait-any, 0 for
	// wait-all. For StatusAbandoned and StatusDestroyed it is the index of
	// the abandoned or destroyed object.
	Index  int
	Status WaitStatus
}

// Claimed reports whether the wait claimed its objects.
func (o WaitOutcome) Claimed() bool {
	return o.Status == StatusSatisfied || o.Status == StatusAbandoned
}

func (o WaitOutcome) String() string {
	switch o.Status {
	case StatusSatisfied, StatusAbandoned, StatusDestroyed:
		return fmt.Sprintf("%s(%d)", o.Status, o.Index)
	default:
		return o.Status.String()
	}
}

// SleepResult is the result of a sleep.
type SleepResult uint8

const (
	// SleepCompleted indicates the full duration elapsed.
	SleepCompleted SleepResult = iota + 1
	// SleepInterrupted indicates queued callbacks ended the sleep early.
	SleepInterrupted
)

func (r SleepResult) String() string {
	switch r {
	case SleepCompleted:
		return "Completed"
	case SleepInterrupted:
		return "Interrupted"
	default:
		return fmt.Sprintf("SleepResult(%d)", uint8(r))
	}
}
