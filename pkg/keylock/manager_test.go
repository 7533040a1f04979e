package keylock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/keylock"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SerializesSameKey(t *testing.T) {
	manager := keylock.NewManager()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.WithLock(ctx, "conn-1", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond) // Simulate IO
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside, "same-key work must never overlap")
	assert.Equal(t, 0, manager.Active(), "entries are garbage collected")
}

func TestManager_DifferentKeysRunConcurrently(t *testing.T) {
	manager := keylock.NewManager()
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{}, 2)

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_ = manager.WithLock(ctx, key, func(ctx context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}(key)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("different keys should not block each other")
		}
	}
	close(release)
	wg.Wait()
}

type fakeLocker struct {
	mu       sync.Mutex
	locked   []string
	unlocked []string
	err      error
}

func (f *fakeLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.locked = append(f.locked, key)
	f.mu.Unlock()
	return func(ctx context.Context) error {
		f.mu.Lock()
		f.unlocked = append(f.unlocked, key)
		f.mu.Unlock()
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &fakeLocker{}
	manager := keylock.NewManager(keylock.WithLocker(locker), keylock.WithTTL(time.Second))

	err := manager.WithLock(context.Background(), "conn-1", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"conn-1"}, locker.locked)
	assert.Equal(t, []string{"conn-1"}, locker.unlocked)

	failing := keylock.NewManager(keylock.WithLocker(&fakeLocker{err: errors.New("redis down")}))
	called := false
	err = failing.WithLock(context.Background(), "conn-1", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, 0, failing.Active())
}

func TestManager_PropagatesError(t *testing.T) {
	manager := keylock.NewManager()
	boom := errors.New("boom")
	err := manager.WithLock(context.Background(), "k", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestManager_WaitHonoursContext(t *testing.T) {
	manager := keylock.NewManager()
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = manager.WithLock(context.Background(), "conn-1", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := manager.WithLock(ctx, "conn-1", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)

	close(release)
	require.NoError(t, manager.WithLock(context.Background(), "conn-1", func(ctx context.Context) error { return nil }))
	assert.Eventually(t, func() bool { return manager.Active() == 0 }, time.Second, time.Millisecond)
}
