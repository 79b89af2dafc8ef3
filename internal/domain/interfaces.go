package domain

import (
	"context"
	"time"

	"pharmsync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// RemoteAdapter reads one entity type from a backend's remote database.
type RemoteAdapter interface {
	Search(ctx context.Context, backend *models.Backend, filter models.Filter) ([]string, error)
	Read(ctx context.Context, backend *models.Backend, remoteID string, fields []string) (map[string]any, error)
}

// TaskRunner accepts import tasks for asynchronous execution. Submit must
// not wait for the task to run.
type TaskRunner interface {
	Submit(ctx context.Context, task *models.ImportTask) error
}

// RecordImporter pulls one remote record into the local store.
type RecordImporter interface {
	ImportRecord(ctx context.Context, task *models.ImportTask) error
}

// PassLocker serializes scheduling passes for the same backend and entity.
type PassLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

type WatermarkStore interface {
	GetWatermark(ctx context.Context, backendID int64, entity models.EntityInfo) (time.Time, bool, error)
	SetWatermark(ctx context.Context, backendID int64, entity models.EntityInfo, at time.Time) error
	ResetWatermark(ctx context.Context, backendID int64, entity models.EntityInfo) error
}

type BackendRepository interface {
	GetBackend(ctx context.Context, id int64) (*models.Backend, error)
	GetBackendByName(ctx context.Context, name string) (*models.Backend, error)
	ListActiveBackends(ctx context.Context) ([]*models.Backend, error)
	SaveBackend(ctx context.Context, backend *models.Backend) error
}

type BindingRepository interface {
	GetBinding(ctx context.Context, backendID int64, entity models.EntityType, remoteID string) (*models.Binding, error)
	UpsertBinding(ctx context.Context, binding *models.Binding) error
	ListBindings(ctx context.Context, entity models.EntityType) ([]*models.Binding, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
