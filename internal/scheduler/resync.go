package scheduler

import (
	"context"
	"fmt"
	"strconv"

	"pharmsync/internal/events"
	"pharmsync/internal/metrics"
	"pharmsync/internal/models"
)

// ResyncAll submits a forced import for every existing binding of entity,
// regardless of watermarks. It returns the number of tasks submitted.
func (s *Scheduler) ResyncAll(ctx context.Context, entity models.EntityType, priority int) (int, error) {
	if _, ok := s.registry.Info(entity); !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	if priority == 0 {
		priority = s.opts.ForcePriority
	}

	bindings, err := s.bindings.ListBindings(ctx, entity)
	if err != nil {
		return 0, fmt.Errorf("list %s bindings: %w", entity, err)
	}

	submitted := 0
	for _, b := range bindings {
		task := &models.ImportTask{
			BackendID: b.BackendID,
			Entity:    entity,
			RemoteID:  b.RemoteID,
			Force:     true,
			Priority:  priority,
		}
		if err := s.runner.Submit(ctx, task); err != nil {
			metrics.AddSubmitted(string(entity), true, submitted)
			return submitted, fmt.Errorf("submit %s %s: %w", entity, b.RemoteID, err)
		}
		submitted++
	}
	metrics.AddSubmitted(string(entity), true, submitted)

	s.logger.Info().Str("entity", string(entity)).Int("tasks", submitted).Int("priority", priority).Msg("resync submitted")
	s.publish(events.EventResyncRequested, events.ResyncEventPayload{
		Entity:    string(entity),
		Priority:  priority,
		Submitted: submitted,
	})
	return submitted, nil
}

// ForceSync submits exactly one forced import of a remote record.
func (s *Scheduler) ForceSync(ctx context.Context, entity models.EntityType, remoteID string, backendID int64) error {
	if _, ok := s.registry.Info(entity); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	if remoteID == "" {
		return fmt.Errorf("remote id is required")
	}
	backend, err := s.backends.GetBackend(ctx, backendID)
	if err != nil {
		return err
	}

	task := &models.ImportTask{
		BackendID: backend.ID,
		Entity:    entity,
		RemoteID:  remoteID,
		Force:     true,
		Priority:  s.opts.ForcePriority,
	}
	if err := s.runner.Submit(ctx, task); err != nil {
		return fmt.Errorf("submit %s %s: %w", entity, remoteID, err)
	}
	metrics.AddSubmitted(string(entity), true, 1)

	s.publish(events.EventResyncRequested, events.ResyncEventPayload{
		Entity:    string(entity),
		BackendID: backend.ID,
		RemoteID:  remoteID,
		Priority:  task.Priority,
		Submitted: 1,
	})
	return nil
}

// ImportAll submits every record of entity on backend, unfiltered.
func (s *Scheduler) ImportAll(ctx context.Context, backend *models.Backend, entity models.EntityType, priority int) (int, error) {
	if priority == 0 {
		priority = s.opts.DefaultPriority
	}
	if err := s.Ensure(ctx, backend); err != nil {
		return 0, err
	}
	return s.ImportBatch(ctx, backend, entity, models.Filter{}, priority)
}

// ImportFDB imports the drug reference tables (routes, dose forms, units).
func (s *Scheduler) ImportFDB(ctx context.Context, backendID int64) (int, error) {
	backend, err := s.backends.GetBackend(ctx, backendID)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, entity := range []models.EntityType{models.EntityFDBRoute, models.EntityFDBForm, models.EntityFDBUnit} {
		n, err := s.ImportAll(ctx, backend, entity, s.opts.DefaultPriority)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ImportFDBByControlCode imports the NDC records whose DEA schedule matches
// the backend's configured control code.
func (s *Scheduler) ImportFDBByControlCode(ctx context.Context, backendID int64) (int, error) {
	backend, err := s.backends.GetBackend(ctx, backendID)
	if err != nil {
		return 0, err
	}
	if backend.FDBNDCControlCode == "" {
		return 0, fmt.Errorf("%w: %s has no fdb_ndc_control_code", models.ErrInvalidBackend, backend.Name)
	}
	code, err := strconv.Atoi(backend.FDBNDCControlCode)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", models.ErrInvalidBackend, backend.Name, err)
	}

	if err := s.Ensure(ctx, backend); err != nil {
		return 0, err
	}
	return s.ImportBatch(ctx, backend, models.EntityFDBNDC, models.EqualsFilter(models.FieldDEA, code), s.opts.DefaultPriority)
}
