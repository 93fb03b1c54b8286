//go:build !unix

package services

// updateLock is process-local where flock is unavailable.
type updateLock struct{}

func acquireUpdateLock(path string) (*updateLock, error) {
	return &updateLock{}, nil
}

func (l *updateLock) Release() error { return nil }
