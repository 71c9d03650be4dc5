//go:build !unix

package store

// fileLock is a no-op where flock(2) is unavailable.
type fileLock struct{}

func acquireLock(string) (*fileLock, error) {
	return &fileLock{}, nil
}

func (*fileLock) release() error {
	return nil
}
