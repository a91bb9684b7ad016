package web

// limiter.go caps the number of simulated uploads in flight across all
// sessions.
//
// A slot is held from BeginUpload until the wizard reports completion, the
// user cancels, or the wizard is reset or disposed. Since several of those
// paths can fire for the same upload, slots are keyed and releasing a key
// twice is harmless. Re-uploading into a field that already holds a slot
// reuses it.

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrTooManyUploads is returned when all upload slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyUploads = errors.New("too many concurrent uploads, please try again later")

// DefaultMaxConcurrentUploads is the default limit for parallel uploads.
const DefaultMaxConcurrentUploads = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 5 * time.Second

// UploadLimiter hands out keyed upload slots using a semaphore.
type UploadLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu   sync.Mutex
	held map[string]struct{}
}

// NewUploadLimiter allows at most maxConcurrent uploads at once. Acquire
// waits up to maxWait for a slot.
func NewUploadLimiter(maxConcurrent int, maxWait time.Duration) *UploadLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentUploads
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &UploadLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		held:      make(map[string]struct{}),
	}
}

// Acquire takes a slot for key. A key that already holds one succeeds
// immediately. Returns ErrTooManyUploads on timeout, or the context error.
func (l *UploadLimiter) Acquire(ctx context.Context, key string) error {
	_, err := l.Reserve(ctx, key)
	return err
}

// Reserve is Acquire that also reports whether this call took a new slot.
// Only the caller that took the slot may give it back on failure; a key
// already holding one belongs to the upload that acquired it.
func (l *UploadLimiter) Reserve(ctx context.Context, key string) (bool, error) {
	if l.Holds(key) {
		return false, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, ErrTooManyUploads
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.held[key]; dup {
		// Lost a race with another Acquire for the same key.
		<-l.semaphore
		return false, nil
	}
	l.held[key] = struct{}{}
	return true, nil
}

// Holds reports whether key currently holds a slot.
func (l *UploadLimiter) Holds(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// Release frees the slot held by key and reports whether there was one.
func (l *UploadLimiter) Release(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked(key)
}

// ReleasePrefix frees every slot whose key starts with prefix and returns
// how many were freed.
func (l *UploadLimiter) ReleasePrefix(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key := range l.held {
		if strings.HasPrefix(key, prefix) && l.releaseLocked(key) {
			n++
		}
	}
	return n
}

func (l *UploadLimiter) releaseLocked(key string) bool {
	if _, ok := l.held[key]; !ok {
		return false
	}
	delete(l.held, key)
	<-l.semaphore
	return true
}

// ActiveCount returns the number of slots in use.
func (l *UploadLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// MaxConcurrent returns the maximum allowed concurrent uploads.
func (l *UploadLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots.
func (l *UploadLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until no slot is held or ctx is done.
func (l *UploadLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// UploadLimiterStatus is a snapshot of the limiter for monitoring.
type UploadLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current limiter state.
func (l *UploadLimiter) Status() UploadLimiterStatus {
	return UploadLimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: l.MaxConcurrent(),
	}
}
