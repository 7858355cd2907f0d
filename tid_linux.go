//go:build linux

package synchmgr

import (
	"golang.org/x/sys/unix"
)

// currentOSThreadID returns the kernel thread id of the calling thread.
// Only meaningful after runtime.LockOSThread.
func currentOSThreadID() int {
	return unix.Gettid()
}
