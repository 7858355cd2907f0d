package synchmgr

import (
	"slices"
)

// MaxWaitObjects is the maximum number of handles a single wait may name.
const MaxWaitObjects = 64

type waitKind uint8

const (
	waitSingle waitKind = iota
	waitMultiple
)

// waitDescriptor is a thread's record of its current in-flight wait. It is
// allocated once per Thread, and reset between waits. Guarded by the global
// lock.
type waitDescriptor struct {
	// err is set instead of outcome when the wait was failed by the manager
	err error

	outcome WaitOutcome

	// regs is the registration arena, indexed by caller handle index
	regs [MaxWaitObjects]registration

	// order lists regs indices in ascending object id
	order [MaxWaitObjects]uint8

	// gen identifies the wait, so that stale wakeups can be discarded
	gen uint64

	count int

	kind      waitKind
	waitAll   bool
	alertable bool
	active    bool
	done      bool
}

// begin initializes the descriptor for a new wait. The registrations are not
// linked yet.
func (d *waitDescriptor) begin(t *Thread, objs []*objectState, kind waitKind, waitAll, alertable bool) {
	d.err = nil
	d.outcome = WaitOutcome{}
	d.gen++
	d.count = len(objs)
	d.kind = kind
	d.waitAll = waitAll
	d.alertable = alertable
	d.active = true
	d.done = false
	for i, o := range objs {
		d.regs[i] = registration{obj: o, thread: t, index: i}
		d.order[i] = uint8(i)
	}
	slices.SortStableFunc(d.order[:d.count], func(a, b uint8) int {
		ia, ib := d.regs[a].obj.id, d.regs[b].obj.id
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		default:
			return 0
		}
	})
}

// ordered returns the registrations in ascending object id order.
func (d *waitDescriptor) ordered(yield func(r *registration) bool) {
	for _, i := range d.order[:d.count] {
		if !yield(&d.regs[i]) {
			return
		}
	}
}

// complete records the outcome, at most once.
func (d *waitDescriptor) complete(outcome WaitOutcome, err error) bool {
	if !d.active || d.done {
		return false
	}
	d.done = true
	d.outcome = outcome
	d.err = err
	return true
}

// end resets the descriptor. All registrations must already be unlinked.
func (d *waitDescriptor) end() {
	for i := range d.count {
		d.regs[i] = registration{}
	}
	d.count = 0
	d.active = false
}
