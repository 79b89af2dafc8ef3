// Package importer copies single remote records into local bindings.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"pharmsync/internal/database"
	"pharmsync/internal/domain"
	"pharmsync/internal/models"
	"pharmsync/internal/registry"

	"github.com/rs/zerolog"
)

// BindingImporter reads a remote record and stores it as a binding. A record
// whose content did not change since the last import is left alone unless
// the task is forced.
type BindingImporter struct {
	backends domain.BackendRepository
	bindings domain.BindingRepository
	registry *registry.Registry
	logger   *zerolog.Logger
}

func NewBindingImporter(backends domain.BackendRepository, bindings domain.BindingRepository, reg *registry.Registry, logger *zerolog.Logger) *BindingImporter {
	l := logger.With().Str("component", "importer").Logger()
	return &BindingImporter{backends: backends, bindings: bindings, registry: reg, logger: &l}
}

func (i *BindingImporter) ImportRecord(ctx context.Context, task *models.ImportTask) error {
	backend, err := i.backends.GetBackend(ctx, task.BackendID)
	if err != nil {
		return fmt.Errorf("load backend %d: %w", task.BackendID, err)
	}
	_, adapter, err := i.registry.Lookup(task.Entity)
	if err != nil {
		return err
	}

	record, err := adapter.Read(ctx, backend, task.RemoteID, nil)
	if err != nil {
		return err
	}
	payload, sum, err := Checksum(record)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", task.Entity, task.RemoteID, err)
	}

	existing, err := i.bindings.GetBinding(ctx, backend.ID, task.Entity, task.RemoteID)
	switch {
	case err == nil:
		if existing.Checksum == sum && !task.Force {
			i.logger.Debug().Str("entity", string(task.Entity)).Str("remote_id", task.RemoteID).Msg("record unchanged")
			return nil
		}
	case !errors.Is(err, database.ErrNotFound):
		return err
	}

	binding := &models.Binding{
		BackendID: backend.ID,
		Entity:    task.Entity,
		RemoteID:  task.RemoteID,
		Checksum:  sum,
		Payload:   payload,
	}
	return i.bindings.UpsertBinding(ctx, binding)
}

// Checksum returns the canonical JSON form of record and its sha256 digest.
// Byte slices are treated as text.
func Checksum(record map[string]any) (string, string, error) {
	normalized := make(map[string]any, len(record))
	for k, v := range record {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		normalized[k] = v
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256(raw)
	return string(raw), hex.EncodeToString(sum[:]), nil
}
