package models

import "time"

// Binding links a remote record to its local copy for one backend.
type Binding struct {
	ID        int64      `json:"id"`
	BackendID int64      `json:"backend_id"`
	Entity    EntityType `json:"entity"`
	RemoteID  string     `json:"remote_id"`
	Checksum  string     `json:"checksum"`
	Payload   string     `json:"payload"`
	SyncDate  time.Time  `json:"sync_date"`
}
