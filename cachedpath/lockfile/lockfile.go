// Package lockfile provides cross-process exclusive locking on a
// single named file, adapted from mirror.Flock in cybozu-go/aptutil.
package lockfile

import (
	"os"
	"syscall"

	"github.com/cybozu-go/log"
	"github.com/pkg/errors"
)

// flock is a thin wrapper around *os.File to call flock(2), identical
// in spirit to mirror.Flock.
type flock struct {
	f *os.File
}

// lock calls flock(2) with LOCK_EX|LOCK_NB.
func (fl flock) lock() error {
	err := syscall.Flock(int(fl.f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		return os.NewSyscallError("flock", err)
	}
	return nil
}

// lockBlocking calls flock(2) with LOCK_EX, blocking until acquired.
func (fl flock) lockBlocking() error {
	err := syscall.Flock(int(fl.f.Fd()), syscall.LOCK_EX)
	if err != nil {
		return os.NewSyscallError("flock", err)
	}
	return nil
}

// unlock calls flock(2) with LOCK_UN.
func (fl flock) unlock() error {
	err := syscall.Flock(int(fl.f.Fd()), syscall.LOCK_UN)
	if err != nil {
		return os.NewSyscallError("flock", err)
	}
	return nil
}

// WithFileLock opens (creating if absent) the file at path, acquires an
// exclusive advisory lock scoped strictly to that single filename, runs
// body, then releases the lock on every exit path -- spec.md §4.3 (C3
// Lock Manager).
//
// Two different resources, or two different ETag versions of the same
// resource, each get their own lock file and never contend with one
// another.
func WithFileLock(path string, body func() error) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrap(err, "lockfile: open "+path)
	}
	defer f.Close()

	fl := flock{f}

	if err := fl.lock(); err != nil {
		log.Info("waiting for lock", map[string]interface{}{
			"path": path,
		})
		if err := fl.lockBlocking(); err != nil {
			return errors.Wrap(err, "lockfile: lock "+path)
		}
	}
	defer fl.unlock()

	return body()
}
