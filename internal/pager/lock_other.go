//go:build !unix

package pager

import (
	"fmt"
	"os"
	"sync"
)

// processLocks approximates whole-file locking on platforms without
// flock(2): it only protects against two FileBackingStores in the same
// process opening the same path, not against separate processes. Unix
// builds use lockFile/unlockFile in lock_unix.go for the real thing.
var (
	processLocksMu sync.Mutex
	processLocks   = map[string]bool{}
)

func lockFile(f *os.File) error {
	processLocksMu.Lock()
	defer processLocksMu.Unlock()
	if processLocks[f.Name()] {
		return fmt.Errorf("pager: %s already locked by this process", f.Name())
	}
	processLocks[f.Name()] = true
	return nil
}

func unlockFile(f *os.File) error {
	processLocksMu.Lock()
	defer processLocksMu.Unlock()
	delete(processLocks, f.Name())
	return nil
}
