//go:build !linux

package synchmgr

func currentOSThreadID() int {
	return 0
}
