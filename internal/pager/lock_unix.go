//go:build unix

package pager

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes a whole-file advisory exclusive lock via flock(2), per
// spec.md §6 ("a filesystem abstraction with ... lock/unlock. Lock
// granularity is the whole file") — this closes a gap the teacher's own
// pager.OpenPager leaves open (it only guards with an in-process
// sync.RWMutex).
func lockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("pager: lock %s: %w", f.Name(), err)
	}
	return nil
}

// unlockFile releases the whole-file lock taken by lockFile.
func unlockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("pager: unlock %s: %w", f.Name(), err)
	}
	return nil
}
