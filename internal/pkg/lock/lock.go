// Package lock provides in-process keyed mutexes.
//
// A KeyLock hands out one mutex per int64 key (a round id, a user id) and
// forgets the key once nobody holds or waits on it, so the map only ever
// contains in-flight work.
package lock

import (
	"context"
	"sync"
	"time"
)

// keyMutex wraps a mutex with reference counting for cleanup.
type keyMutex struct {
	mu   sync.Mutex
	refs int
}

// KeyLock provides per-key locking.
type KeyLock struct {
	mu    sync.Mutex
	locks map[int64]*keyMutex
}

// NewKeyLock creates a new KeyLock instance.
func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[int64]*keyMutex)}
}

// acquire returns the mutex for key with one reference taken.
func (kl *KeyLock) acquire(key int64) *keyMutex {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m, ok := kl.locks[key]
	if !ok {
		m = &keyMutex{}
		kl.locks[key] = m
	}
	m.refs++
	return m
}

// release drops one reference and removes the entry at zero.
func (kl *KeyLock) release(key int64, m *keyMutex) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m.refs--
	if m.refs <= 0 {
		delete(kl.locks, key)
	}
}

// Unlock releases the lock for key.
func (kl *KeyLock) Unlock(key int64) {
	kl.mu.Lock()
	m, ok := kl.locks[key]
	kl.mu.Unlock()
	if !ok {
		return
	}
	m.mu.Unlock()
	kl.release(key, m)
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false otherwise.
func (kl *KeyLock) TryLock(key int64) bool {
	m := kl.acquire(key)
	if m.mu.TryLock() {
		return true
	}
	kl.release(key, m)
	return false
}

// LockWithTimeout waits up to timeout for the lock on key. It returns
// ErrLockTimeout when the timeout elapses and ctx.Err() when ctx ends first.
func (kl *KeyLock) LockWithTimeout(ctx context.Context, key int64, timeout time.Duration) error {
	m := kl.acquire(key)
	if m.mu.TryLock() {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			kl.release(key, m)
			return ctx.Err()
		case <-timer.C:
			kl.release(key, m)
			return ErrLockTimeout
		case <-ticker.C:
			if m.mu.TryLock() {
				return nil
			}
		}
	}
}

