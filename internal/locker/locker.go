// Package locker serializes writes to a single source record.
package locker

import (
	"context"
	"errors"
	"sync"
)

var ErrLockTimeout = errors.New("timed out waiting for record lock")

// Locker guards the read, gate check and write of one source.
// The returned release func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, sourceID int64) (release func(), err error)
}

// MemoryLocker is an in-process Locker keyed by source id. A slot lives only
// while someone holds or waits for it.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[int64]*memorySlot
}

type memorySlot struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: map[int64]*memorySlot{}}
}

func (l *MemoryLocker) acquire(sourceID int64) *memorySlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[sourceID]
	if !ok {
		slot = &memorySlot{ch: make(chan struct{}, 1)}
		l.slots[sourceID] = slot
	}
	slot.refs++
	return slot
}

func (l *MemoryLocker) drop(sourceID int64, slot *memorySlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, sourceID)
	}
}

func (l *MemoryLocker) Lock(ctx context.Context, sourceID int64) (func(), error) {
	slot := l.acquire(sourceID)
	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(sourceID, slot)
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.drop(sourceID, slot)
		})
	}, nil
}

func (l *MemoryLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
