package models

import "time"

const (
	TaskStatusPending   = "pending"
	TaskStatusRetry     = "retry"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

const (
	// ImportDeltaBuffer is subtracted from the pass start time before the
	// watermark is written. The remote stamps change fields at transaction
	// start, so records committed during a pass fall inside this margin.
	ImportDeltaBuffer = 30 * time.Second

	// DefaultPriority is attached to scheduled batch imports.
	DefaultPriority = 10

	// ForcePriority is used for operator-requested forced imports.
	// Lower values are consumed first.
	ForcePriority = 5

	// DefaultDateDataStart is the floor used when a backend has no explicit start.
	DefaultDateDataStart = "1970-01-01T00:00:00Z"

	// DefaultLockTTL bounds how long a pass may hold its backend/entity lock.
	DefaultLockTTL = time.Hour

	// WorkerQueueSize is the in-memory fallback queue size of the import worker.
	WorkerQueueSize = 1024
)

const (
	DriverSQLite = "sqlite3"
	DriverODBC   = "odbc"
)

const (
	DefaultPoolSize    = 20
	DefaultMaxOverflow = 20
	DefaultPoolTimeout = 30 * time.Second
	DefaultSalePrefix  = "CSO/"
	DefaultRxPrefix    = "CRX/"
	DefaultVersion     = "2.99"
)
