package runstore

import (
	"context"
	"sync"
	"time"
)

// Locker grants exclusive, expiring ownership of a key.
type Locker interface {
	// Acquire returns ErrClaimed when the key is held by another owner.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// MemoryLocker is a process local Locker.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]*lease
	now    func() time.Time
}

type lease struct {
	expires time.Time
}

func NewMemoryLocker(now func() time.Time) *MemoryLocker {
	if now == nil {
		now = time.Now
	}
	return &MemoryLocker{leases: make(map[string]*lease), now: now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expires) {
		return nil, ErrClaimed
	}
	owned := &lease{expires: now.Add(ttl)}
	l.leases[key] = owned
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.leases[key] == owned {
			delete(l.leases, key)
		}
	}, nil
}

// keyedMutex serialises operations on the same key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
