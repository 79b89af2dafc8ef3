package scheduler

import (
	"context"
	"fmt"

	"pharmsync/internal/metrics"
	"pharmsync/internal/models"
)

// ImportBatch enumerates the records matching filter and submits one
// non-forced import task per record. It returns the number submitted.
func (s *Scheduler) ImportBatch(ctx context.Context, backend *models.Backend, entity models.EntityType, filter models.Filter, priority int) (int, error) {
	_, adapter, err := s.registry.Lookup(entity)
	if err != nil {
		return 0, err
	}

	ids, err := adapter.Search(ctx, backend, filter)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrEnumeration, entity, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	submitted := 0
	for _, id := range ids {
		task := &models.ImportTask{
			BackendID: backend.ID,
			Entity:    entity,
			RemoteID:  id,
			Priority:  priority,
		}
		if err := s.runner.Submit(ctx, task); err != nil {
			metrics.AddSubmitted(string(entity), false, submitted)
			return submitted, fmt.Errorf("submit %s %s: %w", entity, id, err)
		}
		submitted++
	}
	metrics.AddSubmitted(string(entity), false, submitted)

	s.logger.Debug().
		Str("backend", backend.Name).
		Str("entity", string(entity)).
		Int("tasks", submitted).
		Msg("batch submitted")
	return submitted, nil
}

// ImportDirect enumerates and imports matching records synchronously.
func (s *Scheduler) ImportDirect(ctx context.Context, backend *models.Backend, entity models.EntityType, filter models.Filter) (int, error) {
	_, adapter, err := s.registry.Lookup(entity)
	if err != nil {
		return 0, err
	}

	ids, err := adapter.Search(ctx, backend, filter)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrEnumeration, entity, err)
	}

	for i, id := range ids {
		task := &models.ImportTask{
			BackendID: backend.ID,
			Entity:    entity,
			RemoteID:  id,
			Priority:  s.opts.DefaultPriority,
		}
		if err := s.importer.ImportRecord(ctx, task); err != nil {
			return i, fmt.Errorf("import %s %s: %w", entity, id, err)
		}
	}
	return len(ids), nil
}
