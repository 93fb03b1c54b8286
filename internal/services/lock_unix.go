//go:build unix

package services

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/CloudNativeWorks/ilog/internal/operations/common"
	"golang.org/x/sys/unix"
)

// updateLock keeps other processes from running the pipeline at the same time.
type updateLock struct {
	f *os.File
}

func acquireUpdateLock(path string) (*updateLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), common.DirPerm); err != nil {
		return nil, common.FilesystemError("create lock directory", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, common.FilesystemError("open update lock", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrUpdateInProgress
		}
		return nil, common.FilesystemError("lock "+path, err)
	}

	return &updateLock{f: f}, nil
}

func (l *updateLock) Release() error {
	if l == nil {
		return nil
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
