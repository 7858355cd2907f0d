package synchmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func testContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), testTimeout)
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := testContext()
		defer cancel()
		_ = m.Shutdown(ctx, true)
	})
	return m
}

// attach attaches the test goroutine, detaching it on cleanup.
func attach(t *testing.T, m *Manager) *Thread {
	t.Helper()
	th, err := m.Attach()
	require.NoError(t, err)
	t.Cleanup(func() { _ = th.Exit() })
	return th
}

// spawn runs fn on a new attached thread. The returned channel is closed
// once fn has returned, and the thread has exited.
func spawn(t *testing.T, m *Manager, fn func(th *Thread)) (*Thread, <-chan struct{}) {
	t.Helper()
	done := make(chan struct{})
	ready := make(chan *Thread, 1)
	go func() {
		defer close(done)
		th, err := m.Attach()
		if err != nil {
			ready <- nil
			return
		}
		ready <- th
		defer th.Exit()
		fn(th)
	}()
	th := <-ready
	require.NotNil(t, th)
	return th, done
}

func awaitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for thread")
	}
}

func requireBlocked(t *testing.T, done <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-done:
		t.Fatal("thread returned, expected it to remain blocked")
	case <-time.After(d):
	}
}

// waitForWaiters waits for at least n registrations on h.
func waitForWaiters(t *testing.T, m *Manager, h Handle, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		c, err := m.WaiterCount(h)
		return err == nil && c >= n
	}, testTimeout, time.Millisecond)
}

func mustEvent(t *testing.T, m *Manager, manualReset, initial bool) Handle {
	t.Helper()
	h, err := m.CreateEvent(manualReset, initial)
	require.NoError(t, err)
	return h
}

func mustMutex(t *testing.T, m *Manager, owner *Thread) Handle {
	t.Helper()
	h, err := m.CreateMutex(owner)
	require.NoError(t, err)
	return h
}

func mustSemaphore(t *testing.T, m *Manager, initial, maxCount int) Handle {
	t.Helper()
	h, err := m.CreateSemaphore(initial, maxCount)
	require.NoError(t, err)
	return h
}
