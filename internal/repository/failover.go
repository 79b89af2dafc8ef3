package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pharmsync/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverPassLocker prefers the primary locker and falls back to the
// secondary while the primary is failing.
type FailoverPassLocker struct {
	primary   domain.PassLocker
	fallback  domain.PassLocker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverPassLocker(primary, fallback domain.PassLocker, logger *zerolog.Logger) *FailoverPassLocker {
	return &FailoverPassLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverPassLocker) markDown() {
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverPassLocker) shouldRetryPrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastCheck) > time.Minute
}

func (r *FailoverPassLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if !r.isDown.Load() || r.shouldRetryPrimary() {
		unlock, ok, err := r.primary.TryLock(ctx, key, ttl)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary pass locker recovered")
			}
			return unlock, ok, nil
		}
		if !r.isDown.Load() {
			r.logger.Error().Err(err).Msg("Primary pass locker failed, falling back to memory")
		}
		r.markDown()
	}

	return r.fallback.TryLock(ctx, key, ttl)
}
