// Package cli wires configuration, adapters and the engine for the neonflow commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/neonflow"
	"github.com/aretw0/neonflow/internal/compiler"
	"github.com/aretw0/neonflow/internal/config"
	"github.com/aretw0/neonflow/internal/logging"
	"github.com/aretw0/neonflow/pkg/adapters/amqp"
	"github.com/aretw0/neonflow/pkg/adapters/file"
	"github.com/aretw0/neonflow/pkg/adapters/memory"
	"github.com/aretw0/neonflow/pkg/adapters/openai"
	"github.com/aretw0/neonflow/pkg/adapters/process"
	"github.com/aretw0/neonflow/pkg/adapters/redis"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/aretw0/neonflow/pkg/graph"
	"github.com/aretw0/neonflow/pkg/observability"
	"github.com/aretw0/neonflow/pkg/persistence/middleware"
	"github.com/aretw0/neonflow/pkg/ports"
	"github.com/aretw0/neonflow/pkg/registry"
	"github.com/aretw0/neonflow/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
)

// Options carries the persistent command-line flags. Empty fields leave the
// configuration untouched.
type Options struct {
	ConfigPath    string
	WorkflowsPath string
	LogLevel      string
	Store         string
	Mock          bool
}

// App is a fully wired neonflow instance.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Workflows []domain.Workflow
	Source    string
	Engine    *neonflow.Engine
	Manager   *session.Manager
	Store     ports.RunStore
	Metrics   *prometheus.Registry
	Tools     *registry.Registry

	closers []func(context.Context) error
}

// LoadConfig resolves the configuration: file, environment, then flags.
func LoadConfig(opts Options) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if opts.WorkflowsPath != "" {
		cfg.WorkflowsPath = opts.WorkflowsPath
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.Store != "" {
		cfg.Store.Kind = opts.Store
	}
	if opts.Mock {
		cfg.Mock = true
	}
	return cfg, cfg.Validate()
}

// NewLogger builds the application logger for cfg.
func NewLogger(cfg config.Config) *slog.Logger {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return logging.New(level)
}

// ResolveWorkflowsPath returns path when it exists. The default definitions
// file falls back to the legacy config.nm.
func ResolveWorkflowsPath(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if path == config.DefaultWorkflowsPath {
		if _, err := os.Stat(config.LegacyWorkflowsPath); err == nil {
			return config.LegacyWorkflowsPath, nil
		}
	}
	return "", fmt.Errorf("workflow definitions not found: %s", path)
}

// LoadWorkflows compiles the definitions named by cfg.
func LoadWorkflows(ctx context.Context, cfg config.Config) ([]domain.Workflow, string, error) {
	path, err := ResolveWorkflowsPath(cfg.WorkflowsPath)
	if err != nil {
		return nil, "", err
	}
	wfs, err := neonflow.Load(ctx, path)
	if err != nil {
		return nil, path, err
	}
	return wfs, path, nil
}

// ValidateWorkflows loads every workflow into a graph and joins the failures.
func ValidateWorkflows(wfs []domain.Workflow) error {
	var errs []error
	for _, wf := range wfs {
		if _, err := graph.Load(wf); err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", wf.Name, err))
		}
	}
	return errors.Join(errs...)
}

// NewApp loads the definitions and wires every adapter selected by cfg.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}
	app := &App{Config: cfg, Logger: logger, Metrics: prometheus.NewRegistry()}

	wfs, source, err := LoadWorkflows(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := ValidateWorkflows(wfs); err != nil {
		return nil, err
	}
	app.Workflows, app.Source = wfs, source

	if err := app.wire(); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) wire() error {
	store, err := a.newStore()
	if err != nil {
		return err
	}
	a.Store = store

	invoker, err := a.newInvoker()
	if err != nil {
		return err
	}

	hooks, err := a.newHooks()
	if err != nil {
		return err
	}

	a.Engine = neonflow.New(invoker,
		neonflow.WithLogger(a.Logger),
		neonflow.WithLifecycleHooks(hooks),
		neonflow.WithInvokeTimeout(a.Config.InvokeTimeout),
	)

	a.Manager, err = session.NewManager(a.Engine, a.Workflows,
		session.WithStore(a.Store),
		session.WithLogger(a.Logger),
		session.WithParallel(a.Config.Parallel),
		session.WithSaver(a.save),
	)
	return err
}

func (a *App) newStore() (ports.RunStore, error) {
	store, closeFn, err := NewStore(a.Config)
	if err != nil {
		return nil, err
	}
	a.onClose(closeFn)
	return store, nil
}

// NewStore opens the run archive selected by cfg. The returned function releases it.
func NewStore(cfg config.Config) (ports.RunStore, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	var mws []middleware.Middleware
	if len(cfg.Store.Redact) > 0 {
		mw, err := middleware.NewPIIMiddleware(cfg.Store.Redact)
		if err != nil {
			return nil, noop, err
		}
		mws = append(mws, mw)
	}
	active, fallback, err := cfg.Store.Keys()
	if err != nil {
		return nil, noop, err
	}
	if active != nil {
		mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback})
		if err != nil {
			return nil, noop, err
		}
		mws = append(mws, mw)
	}

	switch cfg.Store.Kind {
	case config.StoreFile:
		return middleware.Chain(file.New(cfg.Store.Path), mws...), noop, nil
	case config.StoreRedis:
		s := redis.New(cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB,
			redis.WithTTL(cfg.Store.TTL))
		return middleware.Chain(s, mws...), func(context.Context) error { return s.Close() }, nil
	case config.StoreMemory, "":
		return middleware.Chain(memory.NewStore(), mws...), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}

func (a *App) newInvoker() (ports.Invoker, error) {
	if a.Config.Mock {
		a.Logger.Debug("Using echo invoker")
		return memory.Echo{}, nil
	}

	a.Tools = registry.NewRegistry()
	registry.RegisterBuiltins(a.Tools)

	tools, err := process.LoadTools(a.Config.ToolsPath)
	if err != nil {
		return nil, err
	}
	if len(tools) > 0 {
		process.NewRunner(tools, process.WithBaseDir(filepath.Dir(a.Source))).Register(a.Tools)
		a.Logger.Info("Loaded process tools", "path", a.Config.ToolsPath, "count", len(tools))
	}

	inv, err := openai.New(a.Config.Transport, openai.WithTools(a.Tools), openai.WithLogger(a.Logger))
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return inv.Close() })
	return inv, nil
}

func (a *App) newHooks() (domain.LifecycleHooks, error) {
	all := []domain.LifecycleHooks{
		observability.LoggingHooks(a.Logger),
		observability.NewMetrics(a.Metrics).Hooks(),
	}

	if a.Config.AMQP.URL != "" {
		pub, err := amqp.Dial(a.Config.AMQP.URL, amqp.WithExchange(a.Config.AMQP.Exchange), amqp.WithLogger(a.Logger))
		if err != nil {
			return domain.LifecycleHooks{}, err
		}
		a.onClose(func(context.Context) error { return pub.Close() })
		all = append(all, observability.PublisherHooks(pub, a.Logger))
	}

	if a.Config.Tracing.Enabled {
		var w io.Writer = os.Stderr
		if a.Config.Tracing.Output != "" {
			f, err := os.Create(a.Config.Tracing.Output)
			if err != nil {
				return domain.LifecycleHooks{}, fmt.Errorf("failed to open trace output: %w", err)
			}
			a.onClose(func(context.Context) error { return f.Close() })
			w = f
		}
		shutdown, err := observability.InitTracing("neonflow", strings.TrimSpace(neonflow.Version), w)
		if err != nil {
			return domain.LifecycleHooks{}, err
		}
		a.onClose(shutdown)
	}

	return domain.ChainHooks(all...), nil
}

// save writes the definitions back in the format of the file they came from.
func (a *App) save(ctx context.Context, wfs []domain.Workflow) error {
	out, err := compiler.Encode(wfs, compiler.DetectFormat(a.Source))
	if err != nil {
		return err
	}
	if err := os.WriteFile(a.Source, out, 0o644); err != nil {
		return fmt.Errorf("failed to save workflows: %w", err)
	}
	a.Logger.Info("Saved workflows", "path", a.Source, "count", len(wfs))
	return nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases adapters in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
