package synchmgr

// Handle identifies a waitable object within a Manager.
type Handle uint64

// InvalidHandle is never assigned to an object.
const InvalidHandle Handle = 0

// Kind identifies the variant of a waitable object.
type Kind uint8

const (
	// KindMutex is a recursive, ownable, abandon-capable mutex.
	KindMutex Kind = iota + 1
	// KindEvent is a manual or auto reset event.
	KindEvent
	// KindSemaphore is a counting semaphore with a maximum count.
	KindSemaphore
	// KindThread is signaled once its thread has exited.
	KindThread
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindMutex:
		return "Mutex"
	case KindEvent:
		return "Event"
	case KindSemaphore:
		return "Semaphore"
	case KindThread:
		return "Thread"
	default:
		return "Unknown"
	}
}

// waitable is the capability set every object kind exposes to the wait
// engine. All methods are called with the manager's global lock held.
type waitable interface {
	Kind() Kind
	// IsSignaled reports whether at least one claim could currently succeed,
	// for some thread.
	IsSignaled() bool
	// Claimable reports whether n consecutive claims by tid would succeed.
	Claimable(tid ThreadID, n int) bool
	// TryClaim consumes the signaled state on behalf of tid. The abandoned
	// result is true at most once per abandonment.
	TryClaim(tid ThreadID) (ok, abandoned bool)
	// TrySignal applies the kind's signal operation on behalf of tid.
	TrySignal(tid ThreadID) bool
	// Owner returns the owning thread, for ownable kinds.
	Owner() (ThreadID, bool)
	// Release drops all ownership held by tid, without marking abandonment.
	Release(tid ThreadID)
	// OnOwnerTerminated marks the object abandoned, if owned by tid.
	OnOwnerTerminated(tid ThreadID) bool
}

// objectState is the wait engine's view of one object: the kind's state,
// and the list of registrations waiting on it.
type objectState struct {
	kind waitable

	// head and tail of the waiter list, in service order
	head *registration
	tail *registration

	// ledgerOwner is the thread whose ledger currently holds this object
	ledgerOwner *Thread

	// id is assigned monotonically, and defines the stable total order
	// used when a wait touches several objects
	id uint64

	waiters   int
	refs      int
	ledgerIdx int
	destroyed bool
}

// link appends r to the waiter list, or inserts it at the head if prioritize.
func (o *objectState) link(r *registration, prioritize bool) {
	r.obj = o
	r.prev, r.next = nil, nil
	if o.head == nil {
		o.head, o.tail = r, r
	} else if prioritize {
		r.next = o.head
		o.head.prev = r
		o.head = r
	} else {
		r.prev = o.tail
		o.tail.next = r
		o.tail = r
	}
	r.linked = true
	o.waiters++
}

// unlink removes r from the waiter list. It reports false if r was not linked.
func (o *objectState) unlink(r *registration) bool {
	if !r.linked || r.obj != o {
		return false
	}
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		o.head = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	} else {
		o.tail = r.prev
	}
	r.prev, r.next = nil, nil
	r.linked = false
	o.waiters--
	return true
}

// mutexObject is a recursive mutex. Owned implies not signaled.
type mutexObject struct {
	owner     ThreadID
	count     int
	abandoned bool
}

func (x *mutexObject) Kind() Kind { return KindMutex }

func (x *mutexObject) IsSignaled() bool { return x.count == 0 }

func (x *mutexObject) Claimable(tid ThreadID, _ int) bool {
	return x.count == 0 || x.owner == tid
}

func (x *mutexObject) TryClaim(tid ThreadID) (bool, bool) {
	switch {
	case x.count == 0:
		x.owner = tid
		x.count = 1
		abandoned := x.abandoned
		x.abandoned = false
		return true, abandoned
	case x.owner == tid:
		x.count++
		return true, false
	default:
		return false, false
	}
}

// TrySignal releases one level of recursion.
func (x *mutexObject) TrySignal(tid ThreadID) bool {
	if x.count == 0 || x.owner != tid {
		return false
	}
	x.count--
	if x.count == 0 {
		x.owner = 0
	}
	return true
}

func (x *mutexObject) Owner() (ThreadID, bool) {
	return x.owner, x.count != 0
}

func (x *mutexObject) Release(tid ThreadID) {
	if x.count != 0 && x.owner == tid {
		x.count = 0
		x.owner = 0
	}
}

func (x *mutexObject) OnOwnerTerminated(tid ThreadID) bool {
	if x.count == 0 || x.owner != tid {
		return false
	}
	x.count = 0
	x.owner = 0
	x.abandoned = true
	return true
}

// eventObject is a manual or auto reset event.
type eventObject struct {
	manualReset bool
	signaled    bool
}

func (x *eventObject) Kind() Kind { return KindEvent }

func (x *eventObject) IsSignaled() bool { return x.signaled }

// Claimable for duplicate registrations of an auto reset event is never
// true, as a single signal can satisfy only one claim.
func (x *eventObject) Claimable(_ ThreadID, n int) bool {
	return x.signaled && (x.manualReset || n <= 1)
}

func (x *eventObject) TryClaim(ThreadID) (bool, bool) {
	if !x.signaled {
		return false, false
	}
	if !x.manualReset {
		x.signaled = false
	}
	return true, false
}

func (x *eventObject) TrySignal(ThreadID) bool {
	x.signaled = true
	return true
}

func (x *eventObject) reset() { x.signaled = false }

func (x *eventObject) Owner() (ThreadID, bool) { return 0, false }
func (x *eventObject) Release(ThreadID) {}
func (x *eventObject) OnOwnerTerminated(ThreadID) bool { return false }

// semaphoreObject is a counting semaphore.
type semaphoreObject struct {
	count int
	max   int
}

func (x *semaphoreObject) Kind() Kind { return KindSemaphore }

func (x *semaphoreObject) IsSignaled() bool { return x.count > 0 }

func (x *semaphoreObject) Claimable(_ ThreadID, n int) bool { return x.count >= n }

func (x *semaphoreObject) TryClaim(ThreadID) (bool, bool) {
	if x.count == 0 {
		return false, false
	}
	x.count--
	return true, false
}

// TrySignal releases a single unit.
func (x *semaphoreObject) TrySignal(ThreadID) bool {
	_, ok := x.release(1)
	return ok
}

func (x *semaphoreObject) release(n int) (int, bool) {
	prev := x.count
	if n <= 0 || x.max-x.count < n {
		return prev, false
	}
	x.count += n
	return prev, true
}

func (x *semaphoreObject) Owner() (ThreadID, bool) { return 0, false }
func (x *semaphoreObject) Release(ThreadID) {}
func (x *semaphoreObject) OnOwnerTerminated(ThreadID) bool { return false }

// threadObject becomes signaled, permanently, when its thread exits.
type threadObject struct {
	tid      ThreadID
	signaled bool
}

func (x *threadObject) Kind() Kind { return KindThread }

func (x *threadObject) IsSignaled() bool { return x.signaled }

func (x *threadObject) Claimable(ThreadID, int) bool { return x.signaled }

func (x *threadObject) TryClaim(ThreadID) (bool, bool) { return x.signaled, false }

// TrySignal always fails: only thread exit signals a thread object.
func (x *threadObject) TrySignal(ThreadID) bool { return false }

func (x *threadObject) Owner() (ThreadID, bool) { return 0, false }
func (x *threadObject) Release(ThreadID) {}
func (x *threadObject) OnOwnerTerminated(ThreadID) bool { return false }
