package synchmgr

import (
	"sync"
	"time"
)

// wakeReason is why a parked thread was resumed.
type wakeReason uint8

const (
	reasonNone wakeReason = iota
	reasonSucceeded
	reasonAlerted
	reasonTimeout
	reasonFailed
)

func (r wakeReason) String() string {
	switch r {
	case reasonNone:
		return "none"
	case reasonSucceeded:
		return "succeeded"
	case reasonAlerted:
		return "alerted"
	case reasonTimeout:
		return "timeout"
	case reasonFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// parkingChannel is the native blocking handle of one thread: a mutex, a
// condition, and a predicate. Only the owning thread waits on it. Any
// goroutine may deliver to it, holding mu.
//
// Lock order: the global lock may be held while acquiring mu, never the
// reverse. At most one parkingChannel.mu is held at a time.
type parkingChannel struct {
	mu   sync.Mutex
	cond sync.Cond
	// gen is the descriptor generation currently accepted; written with
	// both the global lock and mu held
	gen         uint64
	reason      wakeReason
	pred        bool
	timedOut    bool
	initialized bool
}

func (p *parkingChannel) init() {
	p.cond.L = &p.mu
	p.initialized = true
}

// prepare arms the channel for the wait identified by gen. Caller holds the
// global lock.
func (p *parkingChannel) prepare(gen uint64) {
	p.mu.Lock()
	p.gen = gen
	p.pred = false
	p.timedOut = false
	p.reason = reasonNone
	p.mu.Unlock()
}

// signal delivers a wakeup for gen. It reports false if the wakeup was
// stale, or a wakeup was already delivered.
func (p *parkingChannel) signal(gen uint64, reason wakeReason) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signalLocked(gen, reason)
}

func (p *parkingChannel) signalLocked(gen uint64, reason wakeReason) bool {
	if !p.initialized || p.pred || gen != p.gen {
		return false
	}
	p.pred = true
	p.reason = reason
	p.cond.Signal()
	return true
}

func (p *parkingChannel) expire(gen uint64) {
	p.mu.Lock()
	if gen == p.gen && !p.pred {
		p.timedOut = true
		p.cond.Broadcast()
	}
	p.mu.Unlock()
}

// park blocks until a wakeup for the armed generation is delivered, or the
// timeout elapses. A negative timeout never elapses. The drain func is
// called with mu held before blocking, and after every resume.
func (p *parkingChannel) park(timeout time.Duration, drain func()) wakeReason {
	p.mu.Lock()
	defer p.mu.Unlock()

	gen := p.gen
	drain()

	if !p.pred && timeout >= 0 {
		timer := time.AfterFunc(timeout, func() { p.expire(gen) })
		defer timer.Stop()
	}

	for !p.pred && !p.timedOut {
		p.cond.Wait()
		drain()
	}

	if p.pred {
		return p.reason
	}
	return reasonTimeout
}

// release marks the channel unusable. Later deliveries are dropped.
func (p *parkingChannel) release() {
	p.mu.Lock()
	p.initialized = false
	p.mu.Unlock()
}
