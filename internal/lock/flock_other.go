//go:build !unix

package lock

import (
	"errors"
	"os"
)

// Without flock the lock is the existence of a sidecar file created exclusively.
func tryLock(f *os.File) (bool, error) {
	sidecar, err := os.OpenFile(f.Name()+".held", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, sidecar.Close()
}

func unlock(f *os.File) error {
	return os.Remove(f.Name() + ".held")
}
