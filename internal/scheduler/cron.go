package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"pharmsync/internal/models"

	"github.com/rs/zerolog"
)

// Runner fires CronImport for each scheduled entity at its own interval.
// Firings may overlap; the pass lock decides who runs.
type Runner struct {
	scheduler *Scheduler
	intervals map[models.EntityType]time.Duration
	logger    *zerolog.Logger
	wg        sync.WaitGroup
}

func NewRunner(s *Scheduler, intervals map[models.EntityType]time.Duration, logger *zerolog.Logger) *Runner {
	l := logger.With().Str("component", "cron").Logger()
	return &Runner{scheduler: s, intervals: intervals, logger: &l}
}

// Start launches one ticker per entity and returns immediately.
func (r *Runner) Start(ctx context.Context) {
	for entity, every := range r.intervals {
		if every <= 0 {
			continue
		}
		r.wg.Add(1)
		go r.loop(ctx, entity, every)
		r.logger.Info().Str("entity", string(entity)).Dur("interval", every).Msg("cron import scheduled")
	}
}

// Wait blocks until every loop has stopped.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, entity models.EntityType, every time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				r.fire(ctx, entity)
			}()
		}
	}
}

func (r *Runner) fire(ctx context.Context, entity models.EntityType) {
	results, err := r.scheduler.CronImport(ctx, entity)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error().Err(err).Str("entity", string(entity)).Msg("cron import finished with errors")
		return
	}
	r.logger.Debug().Str("entity", string(entity)).Int("backends", len(results)).Msg("cron import finished")
}
