package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Concurrent read-modify-write under the lock matches sequential execution.
func TestLockSerializesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(1000, 100000).Draw(t, "initial")
		numOps := rapid.IntRange(2, 30).Draw(t, "numOps")
		key := rapid.Int64Range(1, 1000000).Draw(t, "key")

		amounts := make([]int64, numOps)
		expected := initial
		for i := range amounts {
			amounts[i] = rapid.Int64Range(-500, 500).Draw(t, "amount")
			expected += amounts[i]
		}

		kl := NewKeyLock()
		balance := initial
		var failed int32

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, a := range amounts {
			go func(amount int64) {
				defer wg.Done()
				if err := kl.LockWithTimeout(context.Background(), key, time.Minute); err != nil {
					atomic.AddInt32(&failed, 1)
					return
				}
				balance += amount
				kl.Unlock(key)
			}(a)
		}
		wg.Wait()

		if failed != 0 {
			t.Fatalf("%d callers failed to lock", failed)
		}
		if balance != expected {
			t.Fatalf("expected %d, got %d", expected, balance)
		}
		if kl.size() != 0 {
			t.Fatalf("lock map not drained: %d entries", kl.size())
		}
	})
}

// Of many concurrent TryLock callers on one key, exactly one wins.
func TestTryLockSingleWinnerProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		callers := rapid.IntRange(2, 20).Draw(t, "callers")
		key := rapid.Int64Range(1, 1000000).Draw(t, "key")

		kl := NewKeyLock()
		var won int32
		start := make(chan struct{})

		var attempted, wg sync.WaitGroup
		attempted.Add(callers)
		wg.Add(callers)
		for i := 0; i < callers; i++ {
			go func() {
				defer wg.Done()
				<-start
				ok := kl.TryLock(key)
				attempted.Done()
				if ok {
					atomic.AddInt32(&won, 1)
					attempted.Wait()
					kl.Unlock(key)
				}
			}()
		}
		close(start)
		wg.Wait()

		if won != 1 {
			t.Fatalf("expected exactly one winner, got %d", won)
		}
		if kl.size() != 0 {
			t.Fatalf("lock map not drained: %d entries", kl.size())
		}
	})
}

func TestKeysAreIndependent(t *testing.T) {
	kl := NewKeyLock()

	require.True(t, kl.TryLock(1))
	assert.True(t, kl.TryLock(2))
	assert.False(t, kl.TryLock(1))

	kl.Unlock(1)
	kl.Unlock(2)
	assert.Equal(t, 0, kl.size())
}

func TestUnlockUnknownKeyIsNoop(t *testing.T) {
	kl := NewKeyLock()
	kl.Unlock(42)
	assert.Equal(t, 0, kl.size())
}

func TestLockWithTimeout(t *testing.T) {
	kl := NewKeyLock()
	require.True(t, kl.TryLock(7))

	err := kl.LockWithTimeout(context.Background(), 7, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, 1, kl.size())

	go func() {
		time.Sleep(10 * time.Millisecond)
		kl.Unlock(7)
	}()
	require.NoError(t, kl.LockWithTimeout(context.Background(), 7, time.Second))
	kl.Unlock(7)
	assert.Equal(t, 0, kl.size())
}

func TestLockWithTimeout_ParentCancelled(t *testing.T) {
	kl := NewKeyLock()
	require.True(t, kl.TryLock(7))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := kl.LockWithTimeout(ctx, 7, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, 1, kl.size())

	kl.Unlock(7)
	assert.Equal(t, 0, kl.size())
}

func (kl *KeyLock) size() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}
