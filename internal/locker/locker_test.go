package locker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	l, err := NewRedisLocker("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("new redis locker: %v", err)
	}
	l.retry = time.Millisecond
	t.Cleanup(func() { _ = l.Close() })
	return l, s
}

func lockers(t *testing.T) map[string]Locker {
	redisLocker, _ := setupRedisLocker(t)
	return map[string]Locker{
		"memory": NewMemoryLocker(),
		"redis":  redisLocker,
	}
}

func TestLockerSerializesSameSource(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			var inside int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					release, err := l.Lock(context.Background(), 7)
					if err != nil {
						t.Errorf("lock: %v", err)
						return
					}
					if n := atomic.AddInt32(&inside, 1); n != 1 {
						t.Errorf("expected exclusive access, found %d holders", n)
					}
					time.Sleep(2 * time.Millisecond)
					atomic.AddInt32(&inside, -1)
					release()
				}()
			}
			wg.Wait()
		})
	}
}

func TestLockerTimesOutWhileHeld(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			release, err := l.Lock(context.Background(), 1)
			if err != nil {
				t.Fatalf("lock: %v", err)
			}
			defer release()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			if _, err := l.Lock(ctx, 1); !errors.Is(err, ErrLockTimeout) {
				t.Fatalf("expected ErrLockTimeout, got %v", err)
			}

			other, err := l.Lock(context.Background(), 2)
			if err != nil {
				t.Fatalf("different source should not block: %v", err)
			}
			other()
		})
	}
}

func TestLockerReleaseIsIdempotent(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			release, err := l.Lock(context.Background(), 3)
			if err != nil {
				t.Fatalf("lock: %v", err)
			}
			release()
			release()

			again, err := l.Lock(context.Background(), 3)
			if err != nil {
				t.Fatalf("relock: %v", err)
			}
			again()
		})
	}
}

func TestRedisLockerDoesNotReleaseForeignLease(t *testing.T) {
	l, s := setupRedisLocker(t)
	release, err := l.Lock(context.Background(), 9)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// Lease expired and another holder took over.
	s.FastForward(l.ttl + time.Second)
	if err := s.Set(l.key(9), "someone-else"); err != nil {
		t.Fatalf("seed foreign lease: %v", err)
	}
	release()

	got, err := s.Get(l.key(9))
	if err != nil || got != "someone-else" {
		t.Fatalf("foreign lease was removed: %q %v", got, err)
	}
}

func TestRedisLockerLeaseExpires(t *testing.T) {
	l, s := setupRedisLocker(t)
	if _, err := l.Lock(context.Background(), 4); err != nil {
		t.Fatalf("lock: %v", err)
	}
	s.FastForward(l.ttl + time.Second)

	release, err := l.Lock(context.Background(), 4)
	if err != nil {
		t.Fatalf("expected expired lease to be reclaimable: %v", err)
	}
	release()
}

func TestMemoryLockerDropsIdleSlots(t *testing.T) {
	l := NewMemoryLocker()
	for id := int64(1); id <= 50; id++ {
		release, err := l.Lock(context.Background(), id)
		if err != nil {
			t.Fatalf("lock %d: %v", id, err)
		}
		release()
	}
	if n := l.size(); n != 0 {
		t.Fatalf("expected no slots after release, found %d", n)
	}

	release, err := l.Lock(context.Background(), 9)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, 9); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if n := l.size(); n != 1 {
		t.Fatalf("held slot should survive a timed-out waiter, found %d", n)
	}
	release()
	release()
	if n := l.size(); n != 0 {
		t.Fatalf("expected slot dropped after release, found %d", n)
	}
}
