//go:build !unix

package storage

import (
	"fmt"
	"os"
)

// fileLock only creates the lock file on platforms without flock. Callers
// on these platforms get atomic replace but no cross-process exclusion.
type fileLock struct {
	f *os.File
}

func lockFile(path string, _ bool) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open lock: %w", err)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) unlock() error {
	return l.f.Close()
}
