package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/neonflow/pkg/domain"
)

// LoggingHooks logs every lifecycle event at debug level, run ends at info.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node_enter", "run_id", e.RunID, "node", e.NodeID, "kind", e.Kind, "visit", e.Visit)
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node_leave", "run_id", e.RunID, "node", e.NodeID)
		},
		OnInvoke: func(ctx context.Context, e *domain.InvokeEvent) {
			logger.DebugContext(ctx, "invoke", "run_id", e.RunID, "node", e.NodeID, "duration", e.Duration, "err", e.Err)
		},
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			logger.DebugContext(ctx, "transition", "run_id", e.RunID, "from", e.From, "to", e.To.String(), "outcome", e.Outcome)
		},
		OnRunEnd: func(ctx context.Context, e *domain.RunEvent) {
			logger.InfoContext(ctx, "run_end", "run_id", e.RunID, "workflow", e.WorkflowID, "status", e.Status, "steps", e.Steps)
		},
	}
}
