// Package app wires the state store, remote adapters, queue and scheduler
// from configuration. Both the daemon and the CLI build on it.
package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"pharmsync/internal/config"
	"pharmsync/internal/database"
	"pharmsync/internal/domain"
	"pharmsync/internal/events"
	"pharmsync/internal/importer"
	"pharmsync/internal/models"
	"pharmsync/internal/registry"
	"pharmsync/internal/remote"
	"pharmsync/internal/repository"
	"pharmsync/internal/scheduler"
	"pharmsync/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type App struct {
	Config    *config.Config
	DB        *database.DB
	Redis     *redis.Client
	Pool      *remote.Pool
	Registry  *registry.Registry
	Events    *events.EventBus
	Importer  *importer.BindingImporter
	Queue     *worker.ImportQueue
	Scheduler *scheduler.Scheduler
	logger    *zerolog.Logger
}

// New opens the state database, stores the configured backends and builds
// the scheduler on top. Redis is optional: when it is unreachable the queue
// and pass locks fall back to in-process implementations.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Events: events.NewEventBus(), logger: logger}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}
	a.DB = db

	if err := a.saveBackends(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Redis = initRedis(ctx, cfg.Redis, logger)
	a.Pool = remote.NewPool(logger)

	reg, err := registry.Default(cfg.RemoteTables, func(info models.EntityInfo) domain.RemoteAdapter {
		return remote.NewSQLAdapter(info, a.Pool)
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("entity registry: %w", err)
	}
	a.Registry = reg

	a.Importer = importer.NewBindingImporter(db, db, reg, logger)

	q := cfg.Queue
	a.Queue = worker.NewImportQueue(db, a.Importer, a.Redis, worker.NewRetryPolicy(q), worker.Options{
		Workers:      q.Workers,
		PollInterval: time.Duration(q.PollIntervalMS) * time.Millisecond,
		BatchSize:    q.BatchSize,
	}, logger)
	a.Queue.SetEventPublisher(a.Events)

	a.Scheduler = scheduler.New(scheduler.Deps{
		Backends:   db,
		Watermarks: db,
		Bindings:   db,
		Registry:   reg,
		Runner:     a.Queue,
		Importer:   a.Importer,
		Locker:     a.passLocker(),
		Events:     a.Events,
	}, scheduler.Options{
		Buffer:          cfg.Scheduler.Buffer(),
		DefaultPriority: cfg.Scheduler.DefaultPriority,
		ForcePriority:   cfg.Scheduler.ForcePriority,
		LockTTL:         cfg.Scheduler.LockTTL(),
	}, logger)

	return a, nil
}

func (a *App) saveBackends(ctx context.Context) error {
	backends, err := a.Config.BackendModels()
	if err != nil {
		return err
	}
	for _, b := range backends {
		if err := a.DB.SaveBackend(ctx, b); err != nil {
			return fmt.Errorf("save backend %s: %w", b.Name, err)
		}
		a.logger.Info().Int64("backend_id", b.ID).Str("backend", b.Name).Bool("active", b.Active).Msg("backend registered")
	}
	return nil
}

func (a *App) passLocker() domain.PassLocker {
	if !a.Config.Scheduler.LockEnabled() {
		return nil
	}
	memory := repository.NewMemoryPassLocker()
	if a.Redis == nil {
		return memory
	}
	return repository.NewFailoverPassLocker(repository.NewRedisPassLocker(a.Redis), memory, a.logger)
}

// Intervals returns the cron schedule keyed by entity.
func (a *App) Intervals() map[models.EntityType]time.Duration {
	out := make(map[models.EntityType]time.Duration, len(a.Config.Scheduler.Intervals))
	for raw, seconds := range a.Config.Scheduler.Intervals {
		entity, err := models.ParseEntityType(raw)
		if err != nil || seconds <= 0 {
			continue
		}
		out[entity] = time.Duration(seconds) * time.Second
	}
	return out
}

// Backend resolves a backend by numeric id or by name.
func (a *App) Backend(ctx context.Context, ref string) (*models.Backend, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return a.DB.GetBackend(ctx, id)
	}
	return a.DB.GetBackendByName(ctx, ref)
}

func (a *App) Close() {
	if a.Pool != nil {
		if err := a.Pool.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close remote pool")
		}
	}
	if a.Redis != nil {
		_ = repository.Close(a.Redis)
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

func initRedis(ctx context.Context, cfg config.RedisConfig, logger *zerolog.Logger) *redis.Client {
	if cfg.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Address).Msg("redis connected")
	return client
}
