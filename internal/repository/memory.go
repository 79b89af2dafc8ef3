package repository

import (
	"context"
	"sync"
	"time"
)

type memoryLock struct {
	token     uint64
	expiresAt time.Time
}

// MemoryPassLocker holds pass locks inside one process.
type MemoryPassLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	seq   uint64
	now   func() time.Time
}

func NewMemoryPassLocker() *MemoryPassLocker {
	return &MemoryPassLocker{
		locks: make(map[string]memoryLock),
		now:   time.Now,
	}
}

func (r *MemoryPassLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if held, ok := r.locks[key]; ok && now.Before(held.expiresAt) {
		return nil, false, nil
	}

	r.seq++
	token := r.seq
	r.locks[key] = memoryLock{token: token, expiresAt: now.Add(ttl)}

	unlock := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if held, ok := r.locks[key]; ok && held.token == token {
			delete(r.locks, key)
		}
	}
	return unlock, true, nil
}
