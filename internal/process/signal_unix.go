//go:build !windows

package process

import (
	"errors"
	"fmt"
	"syscall"
)

// signalGroup sends sig to the process group led by pid.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return ErrProcessGone
		}
		return err
	}
	return nil
}

// processExists checks if a process exists (for tests)
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
