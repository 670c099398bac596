// Package process runs allow-listed local commands as agent tools.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/neonflow/pkg/registry"
)

// ArgEnvPrefix prefixes the environment variables that carry tool arguments.
const ArgEnvPrefix = "NEONFLOW_ARG_"

// Runner executes configured commands. Only commands registered up front can run.
type Runner struct {
	tools   map[string]ToolConfig
	baseDir string
	grace   time.Duration
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithGracePeriod sets how long a canceled process may take to exit before it is killed.
func WithGracePeriod(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.grace = d
	}
}

// NewRunner creates a runner over the given tool definitions.
func NewRunner(tools []ToolConfig, opts ...RunnerOption) *Runner {
	r := &Runner{
		tools: make(map[string]ToolConfig, len(tools)),
		grace: 5 * time.Second,
	}
	for _, t := range tools {
		r.tools[t.Name] = t
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register exposes every configured command in reg.
func (r *Runner) Register(reg *registry.Registry) {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := r.tools[name]
		desc := cfg.Description
		if desc == "" {
			desc = "Run " + cfg.Command
		}
		reg.Register(registry.Tool{
			Name:        name,
			Description: desc,
			Parameters:  registry.ObjectSchema(cfg.Parameters),
		}, func(ctx context.Context, args map[string]any) (any, error) {
			return r.Execute(ctx, name, args)
		})
	}
}

// Execute runs the named command. Arguments are passed as environment
// variables, never as command-line flags. Output that parses as JSON is
// returned decoded; anything else is returned as trimmed text.
func (r *Runner) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	cfg, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("process tool not registered: %s", name)
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = r.baseDir
	cmd.WaitDelay = r.grace

	env := cmd.Environ()
	for k, v := range cfg.Environment {
		env = append(env, k+"="+v)
	}
	for k, v := range args {
		env = append(env, ArgEnvPrefix+strings.ToUpper(k)+"="+envValue(v))
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", name, ctxErr)
		}
		return nil, fmt.Errorf("%s: execution failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}

	trimmed := strings.TrimSpace(stdout.String())
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			return decoded, nil
		}
	}
	return trimmed, nil
}

func envValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", v)
	}
}
