package ports

import (
	"context"

	"github.com/aretw0/neonflow/pkg/domain"
)

// Invoker is the black-box agent/tool collaborator.
// Implementations must honour ctx cancellation; any returned error is treated as a
// transport failure and routed through the node's on_failure edge.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, nc domain.NodeContext) (string, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, prompt string, nc domain.NodeContext) (string, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, prompt string, nc domain.NodeContext) (string, error) {
	return f(ctx, prompt, nc)
}
