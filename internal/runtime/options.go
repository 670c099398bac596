package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/neonflow/internal/logging"
	"github.com/aretw0/neonflow/pkg/domain"
	"go.opentelemetry.io/otel/trace"
)

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger == nil {
			logger = logging.NewNop()
		}
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithRenderer overrides the template renderer.
func WithRenderer(r Renderer) Option {
	return func(e *Engine) {
		e.renderer = r
	}
}

// WithJudge overrides the validator used for Validator nodes.
func WithJudge(judge func(string) domain.ValidationResult) Option {
	return func(e *Engine) {
		e.judge = judge
	}
}

// WithInvokeTimeout bounds every single invocation. Zero means no timeout.
func WithInvokeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.invokeTimeout = d
	}
}

// WithTracer sets the OpenTelemetry tracer used for run and node spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithIDGenerator overrides how run IDs are generated.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		e.newID = gen
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithSleeper overrides how re-entry delays are waited (tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// RunOption configures a single run.
type RunOption func(*runConfig)

type runConfig struct {
	runID     string
	variables domain.Variables
	renderer  Renderer
}

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithVariables seeds extra template variables. The reserved names are always
// set by the engine and cannot be seeded this way.
func WithVariables(vars domain.Variables) RunOption {
	return func(c *runConfig) {
		c.variables = vars
	}
}

// WithRunRenderer renders this run's prompts with r instead of the engine's renderer.
func WithRunRenderer(r Renderer) RunOption {
	return func(c *runConfig) {
		c.renderer = r
	}
}
