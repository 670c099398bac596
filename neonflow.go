package neonflow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/aretw0/neonflow/internal/compiler"
	"github.com/aretw0/neonflow/internal/logging"
	"github.com/aretw0/neonflow/internal/runtime"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/aretw0/neonflow/pkg/graph"
	"github.com/aretw0/neonflow/pkg/ports"
	"github.com/aretw0/neonflow/pkg/prompt"
)

// Engine is the high-level entry point for the neonflow library.
// It wraps the internal runtime and provides a simplified API for consumers.
type Engine struct {
	runtime       *runtime.Engine
	hooks         domain.LifecycleHooks
	logger        *slog.Logger
	invokeTimeout time.Duration
	renderer      runtime.Renderer
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithInvokeTimeout bounds every invocation. A timed out invocation is routed as a failure.
func WithInvokeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.invokeTimeout = d
	}
}

// WithRenderer replaces the default template renderer for every run.
func WithRenderer(r runtime.Renderer) Option {
	return func(e *Engine) {
		e.renderer = r
	}
}

// New initializes an Engine around the invoker that talks to the model backend.
func New(invoker ports.Invoker, opts ...Option) *Engine {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}

	runtimeOpts := []runtime.Option{
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithLogger(eng.logger),
		runtime.WithInvokeTimeout(eng.invokeTimeout),
	}
	if eng.renderer != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithRenderer(eng.renderer))
	}
	eng.runtime = runtime.NewEngine(invoker, runtimeOpts...)
	return eng
}

// RunOption configures a single run.
type RunOption = runtime.RunOption

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) RunOption { return runtime.WithRunID(id) }

// WithVariables seeds extra template variables.
func WithVariables(vars domain.Variables) RunOption { return runtime.WithVariables(vars) }

// Run validates wf and traverses it from its entry node with input as nminput.
//
// Imports in prompt templates resolve relative to the workflow's source file
// unless a renderer was injected with WithRenderer.
func (e *Engine) Run(ctx context.Context, wf domain.Workflow, input string, opts ...RunOption) (*domain.RunResult, error) {
	g, err := graph.Load(wf)
	if err != nil {
		return nil, err
	}
	if e.renderer == nil && wf.Source != "" {
		opts = append([]RunOption{runtime.WithRunRenderer(prompt.New(prompt.WithBaseDir(filepath.Dir(wf.Source))))}, opts...)
	}
	return e.RunGraph(ctx, g, input, opts...)
}

// RunGraph traverses an already loaded graph from its entry node.
func (e *Engine) RunGraph(ctx context.Context, g *graph.Graph, input string, opts ...RunOption) (*domain.RunResult, error) {
	return e.runtime.Run(ctx, g, g.Entry(), input, opts...)
}

// Load reads workflow definitions from a YAML, JSON or .nm file.
func Load(ctx context.Context, path string) ([]domain.Workflow, error) {
	wfs, err := compiler.New().LoadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return wfs, nil
}

// Compile parses definitions held in memory. format is "yaml", "json" or "nm".
func Compile(ctx context.Context, data []byte, format string) ([]domain.Workflow, error) {
	return compiler.New().Compile(ctx, data, compiler.Format(format), "")
}
