// Package lock provides per-job lock files so that two iv processes never
// run the same job at once.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"inertiavault/internal/iv"
)

// DefaultTTL is how old a lock file must be before it is treated as left
// behind by a crashed process.
const DefaultTTL = 24 * time.Hour

// LocalLocker holds <dir>/<name>.lock, created exclusively.
type LocalLocker struct {
	path string
	ttl  time.Duration
	now  func() time.Time

	mu   sync.Mutex
	file *os.File
	held bool
}

var _ iv.Locker = (*LocalLocker)(nil)

// NewLocal returns a locker for name under dir. A ttl of zero never breaks
// an existing lock.
func NewLocal(dir, name string, ttl time.Duration) (*LocalLocker, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: lock directory is required", iv.ErrConfiguration)
	}
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("%w: invalid lock name %q", iv.ErrConfiguration, name)
	}
	return &LocalLocker{path: filepath.Join(dir, name+".lock"), ttl: ttl, now: time.Now}, nil
}

// Provider returns an iv.LockProvider handing out one lock file per job.
func Provider(dir string, ttl time.Duration) iv.LockProvider {
	return func(jobID string) (iv.Locker, error) {
		return NewLocal(dir, jobID, ttl)
	}
}

// Path returns the lock file path.
func (l *LocalLocker) Path() string { return l.path }

// Acquire creates the lock file. If another process holds it the error
// wraps iv.ErrAlreadyRunning.
func (l *LocalLocker) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return fmt.Errorf("%w: lock already held by this process", iv.ErrAlreadyRunning)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	tryAcquire := func() (*os.File, error) {
		return os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o640)
	}

	file, err := tryAcquire()
	if err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("create lock file: %w", err)
		}
		if l.ttl <= 0 {
			return fmt.Errorf("%w: lock file exists: %s", iv.ErrAlreadyRunning, l.path)
		}
		info, statErr := os.Stat(l.path)
		if statErr != nil {
			return fmt.Errorf("lock file exists and stat failed: %w", statErr)
		}
		if l.now().Sub(info.ModTime()) < l.ttl {
			return fmt.Errorf("%w: lock file exists: %s", iv.ErrAlreadyRunning, l.path)
		}
		if err := os.Remove(l.path); err != nil {
			return fmt.Errorf("stale lock file exists, remove failed: %w", err)
		}
		file, err = tryAcquire()
		if err != nil {
			if os.IsExist(err) {
				return fmt.Errorf("%w: lock file exists: %s", iv.ErrAlreadyRunning, l.path)
			}
			return fmt.Errorf("retry acquire after stale remove: %w", err)
		}
	}

	if _, err := fmt.Fprintf(file, "%d\n", os.Getpid()); err != nil {
		file.Close()
		os.Remove(l.path)
		return fmt.Errorf("write lock file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(l.path)
		return fmt.Errorf("sync lock file: %w", err)
	}

	l.file = file
	l.held = true
	return nil
}

func (l *LocalLocker) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	var errs []error
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			errs = append(errs, err)
		}
		l.file = nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	l.held = false
	if len(errs) > 0 {
		return fmt.Errorf("release lock: %v", errs)
	}
	return nil
}
