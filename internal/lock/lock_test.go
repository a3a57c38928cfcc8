package lock

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/adadisk"
)

func TestFileLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".query_raw.lock")

	a := New(path)
	b := New(path)

	ok, err := a.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, a.IsHeld())
	assert.FileExists(t, path)

	ok, err = b.TryAcquire()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, b.IsHeld())

	require.NoError(t, a.Release())
	require.NoError(t, a.Release())

	ok, err = b.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release())
}

func TestFileLock_AcquireTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	holder := New(path)
	require.NoError(t, holder.Acquire(t.Context(), 0))
	defer holder.Release()

	waiter := New(path)
	err := waiter.Acquire(t.Context(), 30*time.Millisecond)
	require.ErrorIs(t, err, adadisk.ErrLocked)
	assert.True(t, adadisk.IsRetryable(err))
}

func TestFileLock_AcquireCanceled(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	holder := New(path)
	require.NoError(t, holder.Acquire(t.Context(), 0))
	defer holder.Release()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := New(path).Acquire(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileLock_MutualExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := New(path)
			if err := l.Acquire(t.Context(), 5*time.Second); err != nil {
				t.Error(err)
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inside.Add(-1)
			assert.NoError(t, l.Release())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}
