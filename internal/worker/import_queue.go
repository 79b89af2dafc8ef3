package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"pharmsync/internal/database"
	"pharmsync/internal/domain"
	"pharmsync/internal/events"
	"pharmsync/internal/logging"
	"pharmsync/internal/metrics"
	"pharmsync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	QueueHighKey    = "import:queue:high"
	QueueDefaultKey = "import:queue:default"
	DeadLetterKey   = "import:deadletter"
)

// Options configure the consumer side of the queue.
type Options struct {
	Workers      int
	PollInterval time.Duration
	BatchSize    int
}

// ImportQueue persists import tasks and runs them through a RecordImporter.
// Tasks travel over redis lanes when available, then an in-memory channel,
// and are always recoverable from the import_queue table.
type ImportQueue struct {
	db          *database.DB
	importer    domain.RecordImporter
	redis       *redis.Client
	events      domain.EventPublisher
	retryPolicy RetryPolicy
	opts        Options
	queue       chan *models.ImportTask
	logger      *zerolog.Logger
}

func NewImportQueue(db *database.DB, importer domain.RecordImporter, redisClient *redis.Client, retry RetryPolicy, opts Options, logger *zerolog.Logger) *ImportQueue {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 5 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	l := logger.With().Str("component", "import_queue").Logger()

	return &ImportQueue{
		db:          db,
		importer:    importer,
		redis:       redisClient,
		retryPolicy: retry,
		opts:        opts,
		queue:       make(chan *models.ImportTask, models.WorkerQueueSize),
		logger:      &l,
	}
}

// SetEventPublisher enables import_task_failed notifications.
func (q *ImportQueue) SetEventPublisher(p domain.EventPublisher) {
	q.events = p
}

// Submit persists task and schedules it for a consumer.
func (q *ImportQueue) Submit(ctx context.Context, task *models.ImportTask) error {
	if task.BackendID == 0 {
		return errors.New("backend id is required")
	}
	if task.Entity == "" || task.RemoteID == "" {
		return errors.New("entity and remote id are required")
	}

	if err := q.db.CreateImportTask(ctx, task); err != nil {
		return fmt.Errorf("persist import task: %w", err)
	}

	if q.redis != nil {
		if err := q.pushRedis(ctx, task); err != nil {
			q.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case q.queue <- task:
	default:
		q.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return nil
}

// Start runs the configured number of consumers and blocks until ctx is done.
func (q *ImportQueue) Start(ctx context.Context) {
	if n, err := q.db.RequeueRunningTasks(ctx); err != nil {
		q.logger.Error().Err(err).Msg("requeue running tasks")
	} else if n > 0 {
		q.logger.Info().Int64("tasks", n).Msg("requeued interrupted tasks")
	}

	q.logger.Info().Int("workers", q.opts.Workers).Msg("import queue started")
	defer q.logger.Info().Msg("import queue stopped")

	var wg sync.WaitGroup
	for i := 0; i < q.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.consume(ctx)
		}()
	}
	wg.Wait()
}

func (q *ImportQueue) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := q.tryLocalQueue(); ok {
			q.processTask(ctx, t)
			continue
		}

		if t, ok := q.tryRedis(ctx); ok {
			q.processTask(ctx, t)
			continue
		}

		tasks, err := q.db.GetPendingImportTasks(ctx, q.opts.BatchSize)
		if err != nil {
			q.logger.Error().Err(err).Msg("fetch pending tasks")
			q.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			q.sleep(ctx)
			continue
		}
		for _, t := range tasks {
			if ctx.Err() != nil {
				return
			}
			q.processTask(ctx, t)
		}
	}
}

func (q *ImportQueue) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(q.opts.PollInterval):
	}
}

func (q *ImportQueue) tryLocalQueue() (*models.ImportTask, bool) {
	select {
	case t := <-q.queue:
		return t, true
	default:
		return nil, false
	}
}

func (q *ImportQueue) tryRedis(ctx context.Context) (*models.ImportTask, bool) {
	if q.redis == nil {
		return nil, false
	}
	res, err := q.redis.BRPop(ctx, time.Second, QueueHighKey, QueueDefaultKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return nil, false
		}
		q.logger.Error().Err(err).Msg("redis BRPOP")
		return nil, false
	}
	if len(res) != 2 {
		return nil, false
	}
	var task models.ImportTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		q.logger.Error().Err(err).Msg("decode redis task")
		return nil, false
	}
	return &task, true
}

// processTask runs one task if no other consumer has claimed it yet.
func (q *ImportQueue) processTask(ctx context.Context, task *models.ImportTask) {
	claimed, err := q.db.ClaimImportTask(ctx, task.ID)
	if err != nil {
		q.logger.Error().Err(err).Int64("task_id", task.ID).Msg("claim task")
		return
	}
	if !claimed {
		return
	}

	log := logging.ForTask(q.logger, task)

	if err := q.importer.ImportRecord(ctx, task); err != nil {
		q.retryOrFail(ctx, &log, task, err)
		return
	}

	if err := q.db.UpdateImportTaskStatus(ctx, task.ID, models.TaskStatusCompleted, task.RetryCount, nil, nil); err != nil {
		log.Error().Err(err).Msg("mark completed")
		return
	}
	task.Status = models.TaskStatusCompleted
	metrics.IncQueueTask(models.TaskStatusCompleted)
	log.Debug().Msg("task completed")
}

func (q *ImportQueue) retryOrFail(ctx context.Context, log *zerolog.Logger, task *models.ImportTask, cause error) {
	attempt := task.RetryCount + 1
	msg := cause.Error()

	if q.retryPolicy.Exhausted(attempt) {
		if err := q.db.UpdateImportTaskStatus(ctx, task.ID, models.TaskStatusFailed, attempt, &msg, nil); err != nil {
			log.Error().Err(err).Msg("mark failed")
		}
		task.Status, task.RetryCount, task.LastError = models.TaskStatusFailed, attempt, &msg
		metrics.IncQueueTask(models.TaskStatusFailed)
		log.Error().Err(cause).Int("attempts", attempt).Msg("task failed permanently")
		q.pushDeadLetter(ctx, log, task)
		q.publishFailure(log, task, msg)
		return
	}

	next := time.Now().Add(q.retryPolicy.NextDelay(attempt))
	if err := q.db.UpdateImportTaskStatus(ctx, task.ID, models.TaskStatusRetry, attempt, &msg, &next); err != nil {
		log.Error().Err(err).Msg("mark retry")
	}
	task.Status, task.RetryCount, task.LastError, task.NextRetryAt = models.TaskStatusRetry, attempt, &msg, &next
	metrics.IncQueueTask(models.TaskStatusRetry)
	log.Warn().Err(cause).Int("attempt", attempt).Time("next_retry_at", next).Msg("task scheduled for retry")
}

func (q *ImportQueue) publishFailure(log *zerolog.Logger, task *models.ImportTask, msg string) {
	if q.events == nil {
		return
	}
	payload := events.TaskEventPayload{
		TaskUUID:  task.UUID,
		BackendID: task.BackendID,
		Entity:    string(task.Entity),
		RemoteID:  task.RemoteID,
		Retries:   task.RetryCount,
		Error:     msg,
	}
	if err := q.events.PublishJSON(events.EventImportTaskFailed, payload); err != nil {
		log.Warn().Err(err).Msg("failed to publish task failure")
	}
}

// laneKey picks the redis lane for a task; forced and urgent work goes high.
func laneKey(task *models.ImportTask) string {
	if task.Priority < models.DefaultPriority {
		return QueueHighKey
	}
	return QueueDefaultKey
}

func (q *ImportQueue) pushRedis(ctx context.Context, task *models.ImportTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.redis.LPush(ctx, laneKey(task), data).Err()
}

func (q *ImportQueue) pushDeadLetter(ctx context.Context, log *zerolog.Logger, task *models.ImportTask) {
	if q.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		log.Error().Err(err).Msg("encode deadletter")
		return
	}
	if err := q.redis.LPush(ctx, DeadLetterKey, data).Err(); err != nil {
		log.Error().Err(err).Msg("deadletter push")
	}
}
