package fsutil

import (
	"errors"
	"math/rand"
	"os"
	"time"
)

// maxShareRetries bounds the narrow retry spec.md §7 carves out: "the
// narrow case of sharing-violation on concurrent readers, which may retry
// with jittered backoff a bounded number of times before downgrading share
// mode". This core never writes, so "downgrading share mode" reduces to
// giving up and returning the error to the caller.
const maxShareRetries = 3

// OpenRetrying opens path for reading, retrying a bounded number of times
// with jittered backoff if the failure looks like a transient sharing
// violation (os.ErrPermission on some platforms when another process holds
// an exclusive lock). This is a filesystem-abstraction concern, not part of
// the core's own error taxonomy (internal/vcserr) — other I/O failures are
// returned immediately, unretried, per spec.md §7.
func OpenRetrying(fsys FS, path string, seekable bool) (File, error) {
	var lastErr error
	for attempt := 0; attempt < maxShareRetries; attempt++ {
		f, err := fsys.Open(path, seekable)
		if err == nil {
			return f, nil
		}
		if !isSharingViolation(err) {
			return nil, err
		}
		lastErr = err
		backoff := time.Duration(attempt+1) * 5 * time.Millisecond
		jitter := time.Duration(rand.Intn(5)) * time.Millisecond
		time.Sleep(backoff + jitter)
	}
	return nil, lastErr
}

func isSharingViolation(err error) bool {
	return errors.Is(err, os.ErrPermission)
}
