package synchmgr

import (
	"sync"
	"sync/atomic"
)

const (
	// pendingInlineSize is the number of wakeups a thread can have pending
	// before they spill to the overflow list.
	pendingInlineSize = 10

	// overflowChunkSize is the number of wakeups per overflow node.
	overflowChunkSize = 32
)

// pendingWake is a wakeup that could not be delivered synchronously.
type pendingWake struct {
	gen    uint64
	reason wakeReason
}

// deferredQueue holds the pending wakeups of one target thread.
//
// Producers are signaling goroutines, holding the global lock. Consumers are
// the worker, and the target thread itself, each holding the target's
// parkingChannel.mu. The queue's own mutex is a leaf: nothing is acquired
// while it is held.
//
// Entries are drained inline slots first, then overflow in insertion order.
// Once anything has overflowed, new entries go to the overflow list until the
// queue is fully drained, so the per-thread order is preserved.
type deferredQueue struct { // betteralign:ignore
	mu       sync.Mutex
	inline   [pendingInlineSize]pendingWake
	overflow overflowList
	used     int
	// pending mirrors the total count, for lock-free emptiness checks
	pending atomic.Int32
}

// push records w, and reports whether it went to the overflow list.
func (q *deferredQueue) push(w pendingWake) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending.Add(1)
	if q.overflow.length == 0 && q.used < len(q.inline) {
		q.inline[q.used] = w
		q.used++
		return false
	}
	q.overflow.push(w)
	return true
}

// drain removes every pending entry, passing each to fn, in order. It returns
// the number of entries removed. Each entry is removed exactly once.
func (q *deferredQueue) drain(fn func(w pendingWake)) int {
	q.mu.Lock()
	var batch [pendingInlineSize]pendingWake
	n := copy(batch[:], q.inline[:q.used])
	q.used = 0
	rest := q.overflow.takeAll()
	total := n + rest.length
	q.pending.Add(-int32(total))
	q.mu.Unlock()

	for _, w := range batch[:n] {
		fn(w)
	}
	for {
		w, ok := rest.pop()
		if !ok {
			break
		}
		fn(w)
	}
	return total
}

// Len returns the total pending count: inline used plus overflow length.
func (q *deferredQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used + q.overflow.length
}

func (q *deferredQueue) hasPending() bool {
	return q.pending.Load() != 0
}

// clear discards everything pending.
func (q *deferredQueue) clear() {
	q.drain(func(pendingWake) {})
}

// overflowList is a chunked linked-list queue of wakeups.
//
// Thread Safety: NOT thread-safe; the caller provides synchronization.
type overflowList struct {
	head   *overflowChunk
	tail   *overflowChunk
	length int
}

// overflowChunkPool prevents allocation churn under signal storms.
var overflowChunkPool = sync.Pool{
	New: func() any {
		return &overflowChunk{}
	},
}

// overflowChunk is a fixed-size node, with read and write cursors.
type overflowChunk struct {
	items   [overflowChunkSize]pendingWake
	next    *overflowChunk
	readPos int
	pos     int
}

func newOverflowChunk() *overflowChunk {
	c := overflowChunkPool.Get().(*overflowChunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

func returnOverflowChunk(c *overflowChunk) {
	*c = overflowChunk{}
	overflowChunkPool.Put(c)
}

func (l *overflowList) push(w pendingWake) {
	if l.tail == nil {
		l.tail = newOverflowChunk()
		l.head = l.tail
	}
	if l.tail.pos == len(l.tail.items) {
		c := newOverflowChunk()
		l.tail.next = c
		l.tail = c
	}
	l.tail.items[l.tail.pos] = w
	l.tail.pos++
	l.length++
}

func (l *overflowList) pop() (pendingWake, bool) {
	for l.head != nil && l.head.readPos >= l.head.pos {
		old := l.head
		l.head = old.next
		if l.head == nil {
			l.tail = nil
		}
		returnOverflowChunk(old)
	}
	if l.head == nil {
		return pendingWake{}, false
	}
	w := l.head.items[l.head.readPos]
	l.head.readPos++
	l.length--
	return w, true
}

// takeAll moves the contents into a new list, leaving the receiver empty.
func (l *overflowList) takeAll() overflowList {
	v := *l
	*l = overflowList{}
	return v
}
