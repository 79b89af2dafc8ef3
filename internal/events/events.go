package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventImportPassCompleted = "import_pass_completed"
	EventImportPassFailed    = "import_pass_failed"
	EventResyncRequested     = "resync_requested"
	EventImportTaskFailed    = "import_task_failed"
)

// PassEventPayload describes one scheduling pass for event consumers.
type PassEventPayload struct {
	BackendID   int64     `json:"backend_id"`
	BackendName string    `json:"backend_name"`
	Entity      string    `json:"entity"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Windows     int       `json:"windows"`
	Submitted   int       `json:"submitted"`
	Watermark   time.Time `json:"watermark,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
}

// TaskEventPayload describes an import task that exhausted its retries.
type TaskEventPayload struct {
	TaskUUID  string `json:"task_uuid"`
	BackendID int64  `json:"backend_id"`
	Entity    string `json:"entity"`
	RemoteID  string `json:"remote_id"`
	Retries   int    `json:"retries"`
	Error     string `json:"error"`
}

// ResyncEventPayload records an operator-requested forced resync.
type ResyncEventPayload struct {
	Entity    string `json:"entity"`
	BackendID int64  `json:"backend_id,omitempty"`
	RemoteID  string `json:"remote_id,omitempty"`
	Priority  int    `json:"priority"`
	Submitted int    `json:"submitted"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// Decode unmarshals the JSON payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
