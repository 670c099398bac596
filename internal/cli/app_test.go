package cli

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/neonflow/internal/config"
	"github.com/aretw0/neonflow/internal/logging"
	"github.com/aretw0/neonflow/pkg/adapters/file"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorkflows = `
workflows:
  - name: echo
    nodes:
      - prompt: "{{nminput}}"
  - name: shout
    nodes:
      - prompt: "{{nminput}}!"
`

func mockConfig(t *testing.T, defs string) config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "workflows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(defs), 0o644))

	cfg := config.Default()
	cfg.Mock = true
	cfg.WorkflowsPath = path
	cfg.ToolsPath = filepath.Join(dir, "tools.yaml")
	cfg.Store.Path = filepath.Join(dir, "runs")
	return cfg
}

func TestNewApp_Mock(t *testing.T) {
	cfg := mockConfig(t, testWorkflows)
	app, err := NewApp(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer app.Close(context.Background())

	assert.Len(t, app.Workflows, 2)
	res, err := app.Manager.RunWorkflow(context.Background(), "shout", "hey")
	require.NoError(t, err)
	assert.Equal(t, "hey!", res.FinalOutput)

	ids, err := app.Store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{res.RunID}, ids)

	families, err := app.Metrics.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "neonflow_runs_total")
}

func TestNewApp_FileStore(t *testing.T) {
	cfg := mockConfig(t, testWorkflows)
	cfg.Store.Kind = config.StoreFile

	app, err := NewApp(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer app.Close(context.Background())

	assert.IsType(t, &file.Store{}, app.Store)
	res, err := app.Manager.RunWorkflow(context.Background(), "echo", "x")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cfg.Store.Path, res.RunID+".json"))
	assert.NoError(t, err)
}

func TestNewStore_Middleware(t *testing.T) {
	cfg := mockConfig(t, testWorkflows)
	cfg.Store.Kind = config.StoreFile
	cfg.Store.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	cfg.Store.Redact = []string{"token"}

	store, closeFn, err := NewStore(cfg)
	require.NoError(t, err)
	defer closeFn(context.Background())

	ctx := context.Background()
	rec := &domain.RunRecord{RunID: "r1", Workflow: "echo", Status: domain.StatusCompleted,
		FinalOutput: "plain text", Variables: domain.Variables{"api_token": "t0k"}}
	require.NoError(t, store.Save(ctx, rec))

	raw, err := os.ReadFile(filepath.Join(cfg.Store.Path, "r1.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plain text")

	loaded, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "plain text", loaded.FinalOutput)
	assert.Equal(t, "***", loaded.Variables["api_token"])
}

func TestNewApp_Save(t *testing.T) {
	cfg := mockConfig(t, testWorkflows)
	app, err := NewApp(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer app.Close(context.Background())

	reply, err := app.Manager.Dispatch(context.Background(), "s", "/save")
	require.NoError(t, err)
	assert.NotEmpty(t, reply.Text)

	data, err := os.ReadFile(cfg.WorkflowsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: shout")
}

func TestNewApp_InvalidDefinitions(t *testing.T) {
	cfg := mockConfig(t, "workflows:\n  - name: bad\n    nodes:\n      - on_success: 9\n")
	_, err := NewApp(context.Background(), cfg, logging.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)
}

func TestResolveWorkflowsPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := ResolveWorkflowsPath(config.DefaultWorkflowsPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, os.WriteFile(config.LegacyWorkflowsPath, []byte("workflow:w\n"), 0o644))
	path, err := ResolveWorkflowsPath(config.DefaultWorkflowsPath)
	require.NoError(t, err)
	assert.Equal(t, config.LegacyWorkflowsPath, path)

	_, err = ResolveWorkflowsPath("other.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NEONFLOW_STORE", "file")

	cfg, err := LoadConfig(Options{WorkflowsPath: "flows.nm", LogLevel: "debug", Mock: true})
	require.NoError(t, err)
	assert.Equal(t, "flows.nm", cfg.WorkflowsPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, config.StoreFile, cfg.Store.Kind)

	cfg, err = LoadConfig(Options{Store: "memory", Mock: true})
	require.NoError(t, err)
	assert.Equal(t, config.StoreMemory, cfg.Store.Kind)

	_, err = LoadConfig(Options{LogLevel: "loud", Mock: true})
	assert.Error(t, err)
}

func TestPrintRuns(t *testing.T) {
	cfg := mockConfig(t, testWorkflows)
	app, err := NewApp(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer app.Close(context.Background())

	var out strings.Builder
	require.NoError(t, PrintRuns(context.Background(), &out, app.Store))
	assert.Contains(t, out.String(), "No runs")

	res, err := app.Manager.RunWorkflow(context.Background(), "echo", "x")
	require.NoError(t, err)
	out.Reset()
	require.NoError(t, PrintRuns(context.Background(), &out, app.Store))
	assert.Contains(t, out.String(), res.RunID)
	assert.Contains(t, out.String(), "completed")

	out.Reset()
	PrintResult(&out, res)
	assert.Contains(t, out.String(), "[echo] completed after 1 steps")
	assert.Contains(t, out.String(), "x\n")
}
