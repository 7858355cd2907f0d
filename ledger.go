package synchmgr

// ownershipLedger is the set of ownable objects a thread currently owns.
//
// NOTE: Not synchronized. Callers MUST hold the global lock.
type ownershipLedger struct {
	objs []*objectState
}

// add records o as owned by t. An object is in at most one ledger.
func (l *ownershipLedger) add(t *Thread, o *objectState) {
	if o.ledgerOwner == t {
		return
	}
	if o.ledgerOwner != nil {
		o.ledgerOwner.ledger.remove(o)
	}
	o.ledgerOwner = t
	o.ledgerIdx = len(l.objs)
	l.objs = append(l.objs, o)
}

// remove drops o, which may be any entry.
func (l *ownershipLedger) remove(o *objectState) {
	i := o.ledgerIdx
	if i < 0 || i >= len(l.objs) || l.objs[i] != o {
		return
	}
	last := len(l.objs) - 1
	if i != last {
		l.objs[i] = l.objs[last]
		l.objs[i].ledgerIdx = i
	}
	l.objs[last] = nil
	l.objs = l.objs[:last]
	o.ledgerOwner = nil
	o.ledgerIdx = -1
}

// takeAll empties the ledger, returning the former entries.
func (l *ownershipLedger) takeAll() []*objectState {
	objs := l.objs
	l.objs = nil
	for _, o := range objs {
		o.ledgerOwner = nil
		o.ledgerIdx = -1
	}
	return objs
}

func (l *ownershipLedger) Len() int {
	return len(l.objs)
}
