// Package lock provides in-process per-key locking.
//
// It serialises work on the same key (a match id) inside one process so
// concurrent requests queue up instead of contending on database row locks.
// It is not a correctness mechanism across processes; the database row lock is.
package lock

import (
	"context"
	"sync"
	"time"
)

// entry is a mutex with a count of goroutines holding or waiting for it.
type entry struct {
	ch   chan struct{}
	refs int
}

// Keyed provides one mutex per int64 key. Entries are dropped when no
// goroutine holds or waits for them, so memory is bounded by live keys.
type Keyed struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

// NewKeyed creates an empty Keyed lock set.
func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[int64]*entry)}
}

func (k *Keyed) acquire(key int64) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) release(key int64, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// Lock blocks until the lock for key is held.
func (k *Keyed) Lock(key int64) {
	e := k.acquire(key)
	e.ch <- struct{}{}
}

// Unlock releases the lock for key. Unlocking a key that is not held is a no-op.
func (k *Keyed) Unlock(key int64) {
	k.mu.Lock()
	e, ok := k.entries[key]
	k.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-e.ch:
		k.release(key, e)
	default:
	}
}

// TryLock acquires the lock for key without blocking.
func (k *Keyed) TryLock(key int64) bool {
	e := k.acquire(key)
	select {
	case e.ch <- struct{}{}:
		return true
	default:
		k.release(key, e)
		return false
	}
}

// LockContext waits for the lock until ctx is done or timeout elapses.
// A zero timeout waits only on ctx.
func (k *Keyed) LockContext(ctx context.Context, key int64, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	e := k.acquire(key)
	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.release(key, e)
		if ctx.Err() == context.DeadlineExceeded {
			return ErrLockTimeout
		}
		return ctx.Err()
	}
}

// WithLock runs fn while holding the lock for key.
func (k *Keyed) WithLock(key int64, fn func() error) error {
	k.Lock(key)
	defer k.Unlock(key)
	return fn()
}

// WithLockContext runs fn while holding the lock for key, giving up if the
// lock is not acquired before ctx is done or timeout elapses.
func (k *Keyed) WithLockContext(ctx context.Context, key int64, timeout time.Duration, fn func() error) error {
	if err := k.LockContext(ctx, key, timeout); err != nil {
		return err
	}
	defer k.Unlock(key)
	return fn()
}

// IsLocked reports whether key is currently held. The answer may be stale
// as soon as it is returned.
func (k *Keyed) IsLocked(key int64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	return ok && len(e.ch) == 1
}

// Len returns the number of keys with a holder or waiter.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
