package ports

import (
	"context"

	"github.com/aretw0/neonflow/pkg/domain"
)

// RunStore defines the interface for archiving finished runs.
type RunStore interface {
	// Save persists the record under its RunID.
	Save(ctx context.Context, record *domain.RunRecord) error

	// Load retrieves a record.
	// Returns domain.ErrRunNotFound if the run does not exist.
	Load(ctx context.Context, runID string) (*domain.RunRecord, error)

	// Delete removes a record. Deleting a missing run is not an error.
	Delete(ctx context.Context, runID string) error

	// List returns the archived run IDs.
	List(ctx context.Context) ([]string, error)
}

// EventPublisher forwards transition events to an external collaborator.
// Publishing is advisory: failures are logged by callers, never fatal to a run.
type EventPublisher interface {
	PublishTransition(ctx context.Context, event *domain.TransitionEvent) error
	PublishRunEnd(ctx context.Context, event *domain.RunEvent) error
}
