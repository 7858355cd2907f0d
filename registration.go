package synchmgr

// registration links one thread's in-flight wait to one object. Each node
// lives in its thread's descriptor arena, at the caller's handle index, and
// is linked into the object's waiter list for the duration of the wait.
//
// A registration is either linked on both sides (the object's list, and its
// descriptor's active set), or on neither. Both sides change together, under
// the global lock.
type registration struct {
	obj    *objectState
	thread *Thread
	prev   *registration
	next   *registration
	// index is the position of the object in the caller's handle list
	index  int
	linked bool
}
