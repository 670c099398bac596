package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/neonflow/internal/logging"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/aretw0/neonflow/pkg/ports"
)

// PublisherHooks forwards transitions and run ends to pub. Publish failures are
// logged and never reach the run.
func PublisherHooks(pub ports.EventPublisher, logger *slog.Logger) domain.LifecycleHooks {
	if logger == nil {
		logger = logging.NewNop()
	}
	return domain.LifecycleHooks{
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			if err := pub.PublishTransition(ctx, e); err != nil {
				logger.Warn("Failed to publish transition", "run_id", e.RunID, "err", err)
			}
		},
		OnRunEnd: func(ctx context.Context, e *domain.RunEvent) {
			if err := pub.PublishRunEnd(ctx, e); err != nil {
				logger.Warn("Failed to publish run end", "run_id", e.RunID, "err", err)
			}
		},
	}
}
