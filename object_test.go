package synchmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexObject_RecursiveOwnership(t *testing.T) {
	var x mutexObject
	require.True(t, x.IsSignaled())

	ok, abandoned := x.TryClaim(1)
	require.True(t, ok)
	require.False(t, abandoned)
	assert.False(t, x.IsSignaled())
	assert.True(t, x.Claimable(1, 3), "owner may recurse")
	assert.False(t, x.Claimable(2, 1))

	ok, _ = x.TryClaim(1)
	require.True(t, ok)
	ok, _ = x.TryClaim(2)
	require.False(t, ok)

	owner, owned := x.Owner()
	assert.Equal(t, ThreadID(1), owner)
	assert.True(t, owned)

	assert.False(t, x.TrySignal(2), "only the owner may release")
	assert.True(t, x.TrySignal(1))
	assert.False(t, x.IsSignaled(), "one level still held")
	assert.True(t, x.TrySignal(1))
	assert.True(t, x.IsSignaled())
	assert.False(t, x.TrySignal(1))
}

func TestMutexObject_AbandonedReportedOnce(t *testing.T) {
	var x mutexObject
	x.TryClaim(7)
	x.TryClaim(7)

	assert.False(t, x.OnOwnerTerminated(8))
	require.True(t, x.OnOwnerTerminated(7))
	require.True(t, x.IsSignaled())

	ok, abandoned := x.TryClaim(9)
	require.True(t, ok)
	assert.True(t, abandoned)
	x.TrySignal(9)

	ok, abandoned = x.TryClaim(9)
	require.True(t, ok)
	assert.False(t, abandoned)
}

func TestMutexObject_Release(t *testing.T) {
	var x mutexObject
	x.TryClaim(1)
	x.TryClaim(1)
	x.Release(2)
	assert.False(t, x.IsSignaled())
	x.Release(1)
	assert.True(t, x.IsSignaled())
	ok, abandoned := x.TryClaim(2)
	assert.True(t, ok)
	assert.False(t, abandoned)
}

func TestEventObject(t *testing.T) {
	t.Run("auto reset", func(t *testing.T) {
		x := eventObject{}
		ok, _ := x.TryClaim(1)
		require.False(t, ok)
		require.True(t, x.TrySignal(0))
		assert.True(t, x.Claimable(1, 1))
		assert.False(t, x.Claimable(1, 2), "one signal satisfies one claim")
		ok, _ = x.TryClaim(1)
		require.True(t, ok)
		assert.False(t, x.IsSignaled())
	})

	t.Run("manual reset", func(t *testing.T) {
		x := eventObject{manualReset: true, signaled: true}
		assert.True(t, x.Claimable(1, 5))
		for range 3 {
			ok, _ := x.TryClaim(1)
			require.True(t, ok)
		}
		assert.True(t, x.IsSignaled())
		x.reset()
		assert.False(t, x.IsSignaled())
	})
}

func TestSemaphoreObject(t *testing.T) {
	x := semaphoreObject{count: 1, max: 3}
	assert.True(t, x.Claimable(0, 1))
	assert.False(t, x.Claimable(0, 2))

	prev, ok := x.release(2)
	require.True(t, ok)
	assert.Equal(t, 1, prev)
	assert.Equal(t, 3, x.count)

	prev, ok = x.release(1)
	require.False(t, ok)
	assert.Equal(t, 3, prev)
	assert.False(t, x.TrySignal(0))

	_, ok = x.release(0)
	assert.False(t, ok)

	for range 3 {
		ok, _ := x.TryClaim(0)
		require.True(t, ok)
	}
	ok, _ = x.TryClaim(0)
	assert.False(t, ok)
	assert.False(t, x.IsSignaled())
}

func TestThreadObject(t *testing.T) {
	x := threadObject{tid: 4}
	assert.False(t, x.TrySignal(4))
	assert.False(t, x.IsSignaled())
	x.signaled = true
	for range 2 {
		ok, _ := x.TryClaim(1)
		assert.True(t, ok, "termination is never consumed")
	}
}

func TestObjectState_LinkUnlink(t *testing.T) {
	var o objectState
	regs := make([]registration, 4)

	o.link(&regs[0], false)
	o.link(&regs[1], false)
	o.link(&regs[2], true)
	require.Equal(t, 3, o.waiters)

	var order []*registration
	for r := o.head; r != nil; r = r.next {
		order = append(order, r)
	}
	assert.Equal(t, []*registration{&regs[2], &regs[0], &regs[1]}, order)

	require.True(t, o.unlink(&regs[0]))
	assert.False(t, o.unlink(&regs[0]), "unlink is idempotent")
	assert.False(t, o.unlink(&regs[3]))
	assert.Equal(t, 2, o.waiters)
	assert.Same(t, &regs[2], o.head)
	assert.Same(t, &regs[1], o.tail)

	require.True(t, o.unlink(&regs[2]))
	require.True(t, o.unlink(&regs[1]))
	assert.Nil(t, o.head)
	assert.Nil(t, o.tail)
	assert.Zero(t, o.waiters)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "Mutex", KindMutex.String())
	assert.Equal(t, "Event", KindEvent.String())
	assert.Equal(t, "Semaphore", KindSemaphore.String())
	assert.Equal(t, "Thread", KindThread.String())
	assert.Equal(t, "Unknown", Kind(0).String())
}
