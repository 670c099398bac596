package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/neonflow"
	"github.com/aretw0/neonflow/internal/logging"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/aretw0/neonflow/pkg/ports"
	"golang.org/x/sync/errgroup"
)

// ErrNoActiveWorkflow is returned when a session has no workflow selected.
var ErrNoActiveWorkflow = errors.New("no active workflow selected")

// Manager runs workflows on behalf of sessions.
type Manager struct {
	engine    *neonflow.Engine
	workflows []domain.Workflow
	byName    map[string]int

	store    ports.RunStore
	saver    func(context.Context, []domain.Workflow) error
	parallel int
	logger   *slog.Logger

	mu       sync.Mutex // Guards sessions
	sessions map[string]*Session
}

// Option configures the Manager.
type Option func(*Manager)

// WithStore archives every finished run.
func WithStore(store ports.RunStore) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithParallel bounds how many workflows RunAll executes at once. Zero or less
// means no bound.
func WithParallel(n int) Option {
	return func(m *Manager) {
		m.parallel = n
	}
}

// WithSaver enables the /save command.
func WithSaver(save func(context.Context, []domain.Workflow) error) Option {
	return func(m *Manager) {
		m.saver = save
	}
}

// NewManager creates a Manager over the given workflows. Names must be unique.
func NewManager(engine *neonflow.Engine, workflows []domain.Workflow, opts ...Option) (*Manager, error) {
	m := &Manager{
		engine:   engine,
		byName:   make(map[string]int, len(workflows)),
		sessions: make(map[string]*Session),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, wf := range workflows {
		if _, dup := m.byName[wf.Name]; dup {
			return nil, fmt.Errorf("duplicate workflow name %q", wf.Name)
		}
		m.byName[wf.Name] = len(m.workflows)
		m.workflows = append(m.workflows, wf)
	}
	return m, nil
}

// List returns the workflow names in definition order.
func (m *Manager) List() []string {
	names := make([]string, len(m.workflows))
	for i, wf := range m.workflows {
		names[i] = wf.Name
	}
	return names
}

// Workflows returns the loaded workflows in definition order.
func (m *Manager) Workflows() []domain.Workflow {
	return append([]domain.Workflow(nil), m.workflows...)
}

// Workflow looks a workflow up by name.
func (m *Manager) Workflow(name string) (domain.Workflow, error) {
	i, ok := m.byName[name]
	if !ok {
		return domain.Workflow{}, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, name)
	}
	return m.workflows[i], nil
}

// Store returns the run archive, or nil when runs are not archived.
func (m *Manager) Store() ports.RunStore {
	return m.store
}

// RunWorkflow runs the named workflow from its entry node.
//
// Like the engine, it returns the result together with the error of an aborted
// or canceled run.
func (m *Manager) RunWorkflow(ctx context.Context, name, prompt string) (*domain.RunResult, error) {
	wf, err := m.Workflow(name)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, wf, prompt)
}

// RunAll runs every workflow concurrently with the same prompt. Results keep
// definition order. The returned error joins the errors of the individual runs.
func (m *Manager) RunAll(ctx context.Context, prompt string) ([]*domain.RunResult, error) {
	results := make([]*domain.RunResult, len(m.workflows))
	errs := make([]error, len(m.workflows))

	var g errgroup.Group
	if m.parallel > 0 {
		g.SetLimit(m.parallel)
	}
	for i, wf := range m.workflows {
		g.Go(func() error {
			res, err := m.run(ctx, wf, prompt)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("workflow %s: %w", wf.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

func (m *Manager) run(ctx context.Context, wf domain.Workflow, prompt string) (*domain.RunResult, error) {
	res, err := m.engine.Run(ctx, wf, prompt)
	if res == nil {
		return nil, err
	}
	m.archive(ctx, res)
	return res, err
}

func (m *Manager) archive(ctx context.Context, res *domain.RunResult) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(context.WithoutCancel(ctx), res.Record()); err != nil {
		m.logger.Warn("Failed to archive run", "run_id", res.RunID, "err", err)
	}
}

// Session returns a snapshot of the session, creating it when absent.
func (m *Manager) Session(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session(sessionID).clone()
}

// session must be called with m.mu held.
func (m *Manager) session(sessionID string) *Session {
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &Session{ID: sessionID}
		if len(m.workflows) > 0 {
			s.Workflow = m.workflows[0].Name
		}
		m.sessions[sessionID] = s
	}
	return s
}

func (m *Manager) update(sessionID string, fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.session(sessionID))
}

// Select makes name the active workflow of the session and clears the agent selection.
func (m *Manager) Select(sessionID, name string) error {
	if _, err := m.Workflow(name); err != nil {
		return err
	}
	m.update(sessionID, func(s *Session) {
		s.Workflow = name
		s.Agent = nil
	})
	return nil
}

// SelectNode makes the node with the given id the start node for the session's
// active workflow. A nil id restores the workflow entry.
func (m *Manager) SelectNode(sessionID string, id *int) error {
	s := m.Session(sessionID)
	if id != nil {
		wf, err := m.active(s)
		if err != nil {
			return err
		}
		if !hasNode(wf, *id) {
			return fmt.Errorf("agent %d not found: workflow %s has %d agents", *id, wf.Name, len(wf.Nodes))
		}
	}
	m.update(sessionID, func(s *Session) {
		if id == nil {
			s.Agent = nil
			return
		}
		agent := *id
		s.Agent = &agent
	})
	return nil
}

// RunActive runs the session's active workflow, starting at the selected agent
// when there is one, and records the run in the session history.
func (m *Manager) RunActive(ctx context.Context, sessionID, prompt string) (*domain.RunResult, error) {
	s := m.Session(sessionID)
	wf, err := m.active(s)
	if err != nil {
		return nil, err
	}
	if s.Agent != nil {
		wf.Entry = *s.Agent
	}
	res, err := m.run(ctx, wf, prompt)
	m.record(sessionID, res)
	return res, err
}

func (m *Manager) record(sessionID string, results ...*domain.RunResult) {
	m.update(sessionID, func(s *Session) {
		for _, res := range results {
			if res != nil {
				s.History = append(s.History, newEntry(res))
			}
		}
	})
}

func (m *Manager) active(s *Session) (domain.Workflow, error) {
	if s.Workflow == "" {
		return domain.Workflow{}, ErrNoActiveWorkflow
	}
	return m.Workflow(s.Workflow)
}

func hasNode(wf domain.Workflow, id int) bool {
	for _, n := range wf.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}
