package synchmgr

import (
	"sync/atomic"
)

// ThreadStage is the synchronization lifecycle stage of a Thread.
//
// State Machine:
//
//	StageIdle (0) → StageStarting (1)     [Attach]
//	StageStarting (1) → StageRunning (2)  [parking channel ready]
//	StageStarting (1) → StageFailed (3)   [parking channel construction failed]
//	StageRunning (2) → StageDone (4)      [Exit]
//	StageFailed (3), StageDone (4) → (terminal)
//
// Transitions only move forward. Use TryTransition (CAS) for every move, so
// that racing Exit calls are resolved exactly once.
type ThreadStage uint32

const (
	// StageIdle indicates the thread record exists but is not attached.
	StageIdle ThreadStage = iota
	// StageStarting indicates per-thread structures are being initialized.
	StageStarting
	// StageRunning indicates the thread may wait, and may be signaled.
	StageRunning
	// StageFailed indicates initialization failed. Terminal.
	StageFailed
	// StageDone indicates the thread has exited. Terminal.
	StageDone
)

// String returns a human-readable representation of the stage.
func (s ThreadStage) String() string {
	switch s {
	case StageIdle:
		return "Idle"
	case StageStarting:
		return "Starting"
	case StageRunning:
		return "Running"
	case StageFailed:
		return "Failed"
	case StageDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s ThreadStage) IsTerminal() bool {
	return s == StageFailed || s == StageDone
}

// stageState is a lock-free stage holder.
type stageState struct {
	v atomic.Uint32
}

func (s *stageState) Load() ThreadStage {
	return ThreadStage(s.v.Load())
}

// TryTransition attempts to atomically move from one stage to another.
// Backward moves, and moves out of a terminal stage, always fail.
func (s *stageState) TryTransition(from, to ThreadStage) bool {
	if to <= from || from.IsTerminal() {
		return false
	}
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
