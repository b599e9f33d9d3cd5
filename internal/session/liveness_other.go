//go:build !unix

package session

import "os"

// ProcessAlive reports whether pid can be found. Without signal 0 this is
// optimistic on platforms where FindProcess always succeeds.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}
