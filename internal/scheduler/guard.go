package scheduler

import (
	"context"
	"fmt"

	"pharmsync/internal/models"
)

// Ensure synchronizes the metadata entities a backend's records depend on.
// Any failure is fatal for the caller's pass.
func (s *Scheduler) Ensure(ctx context.Context, backend *models.Backend) error {
	for _, info := range s.registry.Metadata() {
		if _, err := s.ImportDirect(ctx, backend, info.Type, models.Filter{}); err != nil {
			return fmt.Errorf("%w: %s on %s: %w", ErrPrecondition, info.Type, backend.Name, err)
		}
	}
	return nil
}
