// Package runlock keeps pipeline runs from overlapping.
package runlock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("run already in progress")

// Locker acquires named run locks. The returned release func must be called
// once the run is over; calling it more than once is harmless.
type Locker interface {
	Acquire(ctx context.Context, name string) (release func(), err error)
}

// LocalLocker serializes runs within one process.
type LocalLocker struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*sync.Mutex)}
}

// Acquire takes the named lock without waiting.
func (l *LocalLocker) Acquire(_ context.Context, name string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, ErrLocked
	}
	var once sync.Once
	return func() { once.Do(m.Unlock) }, nil
}
