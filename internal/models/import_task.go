package models

import "time"

// ImportTask asks the asynchronous runner to import one remote record.
type ImportTask struct {
	ID          int64      `json:"id"`
	UUID        string     `json:"uuid"`
	BackendID   int64      `json:"backend_id"`
	Entity      EntityType `json:"entity"`
	RemoteID    string     `json:"remote_id"`
	Force       bool       `json:"force"`
	Priority    int        `json:"priority"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}

// QueueStats summarizes the import queue by status.
type QueueStats struct {
	Pending   int64      `json:"pending"`
	Retry     int64      `json:"retry"`
	Completed int64      `json:"completed"`
	Failed    int64      `json:"failed"`
	Oldest    *time.Time `json:"oldest_pending,omitempty"`
}
