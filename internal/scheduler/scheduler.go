// Package scheduler decides which remote records to import next. A pass
// walks the change history of one entity on one backend in monthly windows
// and hands every matching record to the task runner.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pharmsync/internal/domain"
	"pharmsync/internal/events"
	"pharmsync/internal/logging"
	"pharmsync/internal/metrics"
	"pharmsync/internal/models"
	"pharmsync/internal/registry"
	"pharmsync/internal/timerange"

	"github.com/rs/zerolog"
)

var (
	ErrPrecondition   = errors.New("structure precondition failed")
	ErrEnumeration    = errors.New("remote enumeration failed")
	ErrPassInProgress = errors.New("import pass already in progress")
	ErrUnknownEntity  = models.ErrUnknownEntity
	ErrNotTrackable   = errors.New("entity is not tracked by date")
)

// Options tune pass behavior. Zero values fall back to the package defaults.
type Options struct {
	Buffer          time.Duration
	DefaultPriority int
	ForcePriority   int
	LockTTL         time.Duration
}

func (o *Options) applyDefaults() {
	if o.Buffer == 0 {
		o.Buffer = models.ImportDeltaBuffer
	}
	if o.DefaultPriority == 0 {
		o.DefaultPriority = models.DefaultPriority
	}
	if o.ForcePriority == 0 {
		o.ForcePriority = models.ForcePriority
	}
	if o.LockTTL == 0 {
		o.LockTTL = models.DefaultLockTTL
	}
}

// Deps are the collaborators a Scheduler drives. Locker and Events are optional.
type Deps struct {
	Backends   domain.BackendRepository
	Watermarks domain.WatermarkStore
	Bindings   domain.BindingRepository
	Registry   *registry.Registry
	Runner     domain.TaskRunner
	Importer   domain.RecordImporter
	Locker     domain.PassLocker
	Events     domain.EventPublisher
}

type Scheduler struct {
	backends   domain.BackendRepository
	watermarks domain.WatermarkStore
	bindings   domain.BindingRepository
	registry   *registry.Registry
	runner     domain.TaskRunner
	importer   domain.RecordImporter
	locker     domain.PassLocker
	events     domain.EventPublisher
	opts       Options
	logger     *zerolog.Logger
	now        func() time.Time
}

func New(deps Deps, opts Options, logger *zerolog.Logger) *Scheduler {
	opts.applyDefaults()
	l := logger.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		backends:   deps.Backends,
		watermarks: deps.Watermarks,
		bindings:   deps.Bindings,
		registry:   deps.Registry,
		runner:     deps.Runner,
		importer:   deps.Importer,
		locker:     deps.Locker,
		events:     deps.Events,
		opts:       opts,
		logger:     &l,
		now:        time.Now,
	}
}

// SetClock replaces the wall clock used to stamp passes.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Scheduler) Registry() *registry.Registry {
	return s.registry
}

// PassResult summarizes one completed (or aborted) scheduling pass.
type PassResult struct {
	Backend   string            `json:"backend"`
	BackendID int64             `json:"backend_id"`
	Entity    models.EntityType `json:"entity"`
	From      time.Time         `json:"from"`
	To        time.Time         `json:"to"`
	Windows   int               `json:"windows"`
	Submitted int               `json:"submitted"`
	Watermark time.Time         `json:"watermark"`
}

func (s *Scheduler) trackable(entity models.EntityType) (models.EntityInfo, error) {
	info, ok := s.registry.Info(entity)
	if !ok {
		return models.EntityInfo{}, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	if !info.Trackable {
		return models.EntityInfo{}, fmt.Errorf("%w: %s", ErrNotTrackable, entity)
	}
	return info, nil
}

// ImportFromDate runs one incremental pass for entity on backend. The
// watermark is written only after every window was enumerated and
// submitted; any failure leaves it untouched so the next pass re-covers
// the same range.
func (s *Scheduler) ImportFromDate(ctx context.Context, backend *models.Backend, entity models.EntityType) (PassResult, error) {
	result := PassResult{Backend: backend.Name, BackendID: backend.ID, Entity: entity}
	info, err := s.trackable(entity)
	if err != nil {
		return result, err
	}

	to := s.now()
	started := time.Now()
	log := logging.ForPass(s.logger, backend, entity)

	if err := s.Ensure(ctx, backend); err != nil {
		s.finishPass(&log, result, started, err)
		return result, err
	}

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, lockKey(backend, entity), s.opts.LockTTL)
		if err != nil {
			err = fmt.Errorf("acquire pass lock: %w", err)
			s.finishPass(&log, result, started, err)
			return result, err
		}
		if !ok {
			metrics.ObservePass(string(entity), "skipped", time.Since(started))
			return result, fmt.Errorf("%w: %s/%s", ErrPassInProgress, backend.Name, entity)
		}
		defer unlock()
	}

	from, ok, err := s.watermarks.GetWatermark(ctx, backend.ID, info)
	if err != nil {
		s.finishPass(&log, result, started, err)
		return result, err
	}
	if !ok {
		from = backend.DateDataStart
	}
	result.From, result.To = from, to

	bounds := timerange.Collect(from, to, backend.ImportInverse)
	windows := timerange.Windows(bounds)

	for _, w := range windows {
		n, err := s.importWindow(ctx, backend, info, w, s.opts.DefaultPriority)
		result.Submitted += n
		if err != nil {
			err = fmt.Errorf("window %s..%s: %w", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), err)
			s.finishPass(&log, result, started, err)
			return result, err
		}
		result.Windows++
	}

	watermark := to.Add(-s.opts.Buffer)
	if err := s.watermarks.SetWatermark(ctx, backend.ID, info, watermark); err != nil {
		err = fmt.Errorf("write watermark: %w", err)
		s.finishPass(&log, result, started, err)
		return result, err
	}
	result.Watermark = watermark
	metrics.SetWatermark(backend.Name, string(entity), watermark)

	s.finishPass(&log, result, started, nil)
	return result, nil
}

// importWindow submits the window's records by creation date, then by
// modification date. The guard runs before each submission.
func (s *Scheduler) importWindow(ctx context.Context, backend *models.Backend, info models.EntityInfo, w models.Window, priority int) (int, error) {
	total := 0
	for _, field := range info.ChangeFields() {
		if err := s.Ensure(ctx, backend); err != nil {
			return total, err
		}
		n, err := s.ImportBatch(ctx, backend, info.Type, models.WindowFilter(field, w), priority)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Scheduler) finishPass(log *zerolog.Logger, result PassResult, started time.Time, err error) {
	dur := time.Since(started)
	payload := events.PassEventPayload{
		BackendID:   result.BackendID,
		BackendName: result.Backend,
		Entity:      string(result.Entity),
		From:        result.From,
		To:          result.To,
		Windows:     result.Windows,
		Submitted:   result.Submitted,
		Watermark:   result.Watermark,
		DurationMS:  dur.Milliseconds(),
	}

	if err != nil {
		payload.Error = err.Error()
		metrics.ObservePass(string(result.Entity), "failed", dur)
		log.Error().Err(err).
			Time("from", result.From).
			Time("to", result.To).
			Int("windows", result.Windows).
			Int("tasks", result.Submitted).
			Dur("duration", dur).
			Msg("import pass failed")
		s.publish(events.EventImportPassFailed, payload)
		return
	}

	metrics.ObservePass(string(result.Entity), "ok", dur)
	metrics.AddWindows(string(result.Entity), result.Windows)
	log.Info().
		Time("from", result.From).
		Time("to", result.To).
		Int("windows", result.Windows).
		Int("tasks", result.Submitted).
		Time("watermark", result.Watermark).
		Dur("duration", dur).
		Msg("import pass completed")
	s.publish(events.EventImportPassCompleted, payload)
}

func (s *Scheduler) publish(eventType string, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func lockKey(backend *models.Backend, entity models.EntityType) string {
	return fmt.Sprintf("%d:%s", backend.ID, entity)
}

// Import runs a pass for one backend ("import <entity>").
func (s *Scheduler) Import(ctx context.Context, backendID int64, entity models.EntityType) (PassResult, error) {
	if _, err := s.trackable(entity); err != nil {
		return PassResult{Entity: entity}, err
	}
	backend, err := s.backends.GetBackend(ctx, backendID)
	if err != nil {
		return PassResult{Entity: entity}, err
	}
	return s.ImportFromDate(ctx, backend, entity)
}

// CronImport runs a pass on every active backend ("cron import <entity>").
// A failing backend does not stop the others; failures are joined. Backends
// whose pass is already running are skipped.
func (s *Scheduler) CronImport(ctx context.Context, entity models.EntityType) ([]PassResult, error) {
	if _, err := s.trackable(entity); err != nil {
		return nil, err
	}
	backends, err := s.backends.ListActiveBackends(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active backends: %w", err)
	}

	var (
		results []PassResult
		errs    []error
	)
	for _, backend := range backends {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := s.ImportFromDate(ctx, backend, entity)
		switch {
		case errors.Is(err, ErrPassInProgress):
			s.logger.Info().Str("backend", backend.Name).Str("entity", string(entity)).Msg("pass already running, skipped")
		case err != nil:
			errs = append(errs, fmt.Errorf("backend %s: %w", backend.Name, err))
		default:
			results = append(results, res)
		}
	}
	return results, errors.Join(errs...)
}
