package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pharmsync/internal/models"

	"github.com/google/uuid"
)

const importTaskColumns = `id, uuid, backend_id, entity, remote_id, force, priority, status, retry_count,
        last_error, created_at, processed_at, next_retry_at`

func scanImportTask(row rowScanner) (*models.ImportTask, error) {
	var t models.ImportTask
	err := row.Scan(
		&t.ID, &t.UUID, &t.BackendID, &t.Entity, &t.RemoteID, &t.Force, &t.Priority, &t.Status, &t.RetryCount,
		&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (db *DB) queryImportTasks(ctx context.Context, query string, args ...any) ([]*models.ImportTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.ImportTask
	for rows.Next() {
		t, err := scanImportTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (db *DB) CreateImportTask(ctx context.Context, task *models.ImportTask) error {
	if task.UUID == "" {
		task.UUID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	now := time.Now().UTC()

	result, err := db.ExecContext(ctx, `
        INSERT INTO import_queue (uuid, backend_id, entity, remote_id, force, priority, status, retry_count,
            last_error, created_at, next_retry_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.UUID, task.BackendID, string(task.Entity), task.RemoteID, task.Force, task.Priority, task.Status,
		task.RetryCount, task.LastError, now, task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create import task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

func (db *DB) GetImportTask(ctx context.Context, id int64) (*models.ImportTask, error) {
	row := db.QueryRowContext(ctx, `SELECT `+importTaskColumns+` FROM import_queue WHERE id = ?`, id)
	t, err := scanImportTask(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("import task %d", id))
	}
	return t, nil
}

// GetPendingImportTasks returns runnable tasks, lowest priority value first
// and oldest first within a priority.
func (db *DB) GetPendingImportTasks(ctx context.Context, limit int) ([]*models.ImportTask, error) {
	tasks, err := db.queryImportTasks(ctx, `
        SELECT `+importTaskColumns+` FROM import_queue
        WHERE status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= ?)
        ORDER BY priority ASC, created_at ASC, id ASC LIMIT ?`,
		time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending import tasks: %w", err)
	}
	return tasks, nil
}

// ClaimImportTask marks a runnable task as running. It returns false when the
// task was already claimed or finished by another consumer.
func (db *DB) ClaimImportTask(ctx context.Context, id int64) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE import_queue SET status = ? WHERE id = ? AND status IN ('pending', 'retry')`,
		models.TaskStatusRunning, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim import task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RequeueRunningTasks returns tasks left running by a stopped consumer to the queue.
func (db *DB) RequeueRunningTasks(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE import_queue SET status = ? WHERE status = ?`, models.TaskStatusPending, models.TaskStatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue running tasks: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) UpdateImportTaskStatus(ctx context.Context, id int64, status string, retryCount int, lastError *string, nextRetryAt *time.Time) error {
	var processedAt *time.Time
	if status == models.TaskStatusCompleted || status == models.TaskStatusFailed {
		now := time.Now().UTC()
		processedAt = &now
	}
	if nextRetryAt != nil {
		utc := nextRetryAt.UTC()
		nextRetryAt = &utc
	}

	_, err := db.ExecContext(ctx, `
        UPDATE import_queue SET status = ?, retry_count = ?, last_error = ?, next_retry_at = ?,
            processed_at = COALESCE(?, processed_at)
        WHERE id = ?`,
		status, retryCount, lastError, nextRetryAt, processedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update import task status: %w", err)
	}
	return nil
}

func (db *DB) GetFailedImportTasks(ctx context.Context, limit int) ([]*models.ImportTask, error) {
	if limit <= 0 {
		limit = -1
	}
	tasks, err := db.queryImportTasks(ctx, `
        SELECT `+importTaskColumns+` FROM import_queue
        WHERE status = 'failed' ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed import tasks: %w", err)
	}
	return tasks, nil
}

func (db *DB) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM import_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	stats := &models.QueueStats{}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		switch status {
		case models.TaskStatusPending, models.TaskStatusRunning:
			stats.Pending += n
		case models.TaskStatusRetry:
			stats.Retry = n
		case models.TaskStatusCompleted:
			stats.Completed = n
		case models.TaskStatusFailed:
			stats.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var oldest time.Time
	err = db.QueryRowContext(ctx, `
        SELECT created_at FROM import_queue WHERE status IN ('pending', 'retry')
        ORDER BY created_at ASC LIMIT 1`,
	).Scan(&oldest)
	switch {
	case err == nil:
		stats.Oldest = &oldest
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("queue stats oldest: %w", err)
	}
	return stats, nil
}
