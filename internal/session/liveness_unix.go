//go:build unix

package session

import (
	"errors"
	"syscall"
)

// ProcessAlive probes pid with signal 0. EPERM still means the process
// exists (it belongs to another user).
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
