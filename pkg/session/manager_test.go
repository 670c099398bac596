package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/neonflow"
	"github.com/aretw0/neonflow/pkg/adapters/memory"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/aretw0/neonflow/pkg/dsl"
	"github.com/aretw0/neonflow/pkg/ports"
	"github.com/aretw0/neonflow/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workflows() []domain.Workflow {
	echo := dsl.New("echo")
	echo.Agent(0).Prompt("{{nminput}}")

	chain := dsl.New("chain")
	chain.Agent(0).Prompt("first {{nminput}}").OnSuccess(1)
	chain.Agent(1).Prompt("second {{nmoutput}}")

	loop := dsl.New("loop")
	loop.Agent(0).MaxIterations(1).OnSuccess(0)

	return []domain.Workflow{echo.Workflow(), chain.Workflow(), loop.Workflow()}
}

func newManager(t *testing.T, opts ...session.Option) (*session.Manager, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	opts = append([]session.Option{session.WithStore(store)}, opts...)
	m, err := session.NewManager(neonflow.New(memory.Echo{}), workflows(), opts...)
	require.NoError(t, err)
	return m, store
}

func TestNewManager_DuplicateNames(t *testing.T) {
	wfs := workflows()
	_, err := session.NewManager(neonflow.New(memory.Echo{}), append(wfs, wfs[0]))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestManager_List(t *testing.T) {
	m, _ := newManager(t)
	assert.Equal(t, []string{"echo", "chain", "loop"}, m.List())

	_, err := m.Workflow("nope")
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}

func TestManager_RunWorkflowArchives(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	res, err := m.RunWorkflow(ctx, "chain", "hi")
	require.NoError(t, err)
	assert.Equal(t, "second first hi", res.FinalOutput)

	rec, err := store.Load(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "chain", rec.Workflow)
	assert.Equal(t, domain.StatusCompleted, rec.Status)
}

func TestManager_RunWorkflowAborted(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	res, err := m.RunWorkflow(ctx, "loop", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIterationLimit)
	require.NotNil(t, res)
	assert.Equal(t, domain.StatusAborted, res.Status)

	rec, err := store.Load(ctx, res.RunID)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Error)
}

func TestManager_RunWorkflowUnknown(t *testing.T) {
	m, _ := newManager(t)
	res, err := m.RunWorkflow(context.Background(), "ghost", "x")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}

func TestManager_RunAll(t *testing.T) {
	m, store := newManager(t, session.WithParallel(2))

	results, err := m.RunAll(context.Background(), "go")
	require.Len(t, results, 3)
	assert.Equal(t, "echo", results[0].Workflow)
	assert.Equal(t, "go", results[0].FinalOutput)
	assert.Equal(t, "chain", results[1].Workflow)
	assert.Equal(t, domain.StatusAborted, results[2].Status)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIterationLimit)
	assert.Contains(t, err.Error(), "workflow loop")

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestManager_RunAllIsConcurrent(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := ports.InvokerFunc(func(ctx context.Context, prompt string, _ domain.NodeContext) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		return prompt, nil
	})

	var wfs []domain.Workflow
	for i := 0; i < 4; i++ {
		b := dsl.New(fmt.Sprintf("wf%d", i))
		b.Agent(0)
		wfs = append(wfs, b.Workflow())
	}
	m, err := session.NewManager(neonflow.New(slow), wfs, session.WithParallel(2))
	require.NoError(t, err)

	results, err := m.RunAll(context.Background(), "p")
	require.NoError(t, err)
	assert.Len(t, results, 4)
	assert.Equal(t, int32(2), peak.Load())
}

func TestManager_SelectAndSelectNode(t *testing.T) {
	m, _ := newManager(t)

	s := m.Session("s1")
	assert.Equal(t, "echo", s.Workflow)
	assert.Nil(t, s.Agent)

	require.NoError(t, m.Select("s1", "chain"))
	one := 1
	require.NoError(t, m.SelectNode("s1", &one))

	res, err := m.RunActive(context.Background(), "s1", "x")
	require.NoError(t, err)
	assert.Equal(t, "second", res.FinalOutput)
	assert.Equal(t, 1, res.State.Steps)

	nine := 9
	assert.Error(t, m.SelectNode("s1", &nine))
	assert.ErrorIs(t, m.Select("s1", "ghost"), domain.ErrWorkflowNotFound)

	// Selecting a workflow clears the agent.
	require.NoError(t, m.Select("s1", "echo"))
	assert.Nil(t, m.Session("s1").Agent)

	// Sessions are independent.
	assert.Equal(t, "echo", m.Session("s2").Workflow)
	assert.Len(t, m.Session("s1").History, 1)
	assert.Empty(t, m.Session("s2").History)
}

func TestManager_SessionSnapshot(t *testing.T) {
	m, _ := newManager(t)
	s := m.Session("s")
	s.Workflow = "mutated"
	assert.Equal(t, "echo", m.Session("s").Workflow)
}

func TestManager_NoWorkflows(t *testing.T) {
	m, err := session.NewManager(neonflow.New(memory.Echo{}), nil)
	require.NoError(t, err)

	_, err = m.RunActive(context.Background(), "s", "x")
	assert.ErrorIs(t, err, session.ErrNoActiveWorkflow)
}

func TestManager_ConcurrentSessions(t *testing.T) {
	m, _ := newManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i%3)
			_, err := m.Dispatch(context.Background(), id, "hello")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 3; i++ {
		total += len(m.Session(fmt.Sprintf("s%d", i)).History)
	}
	assert.Equal(t, 10, total)
}

func TestManager_ArchiveFailureIsNotFatal(t *testing.T) {
	m, err := session.NewManager(neonflow.New(memory.Echo{}), workflows(), session.WithStore(failingStore{}))
	require.NoError(t, err)

	res, err := m.RunWorkflow(context.Background(), "echo", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", res.FinalOutput)
}

type failingStore struct{ ports.RunStore }

func (failingStore) Save(context.Context, *domain.RunRecord) error {
	return errors.New("disk full")
}

type blockingInvoker struct {
	started chan struct{}
	release chan struct{}
}

func (b blockingInvoker) Invoke(ctx context.Context, prompt string, _ domain.NodeContext) (string, error) {
	close(b.started)
	select {
	case <-b.release:
		return prompt, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestDispatch_SessionNotBlockedDuringRun(t *testing.T) {
	inv := blockingInvoker{started: make(chan struct{}), release: make(chan struct{})}
	m, err := session.NewManager(neonflow.New(inv), workflows())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.Dispatch(context.Background(), "s", "slow request")
		done <- err
	}()
	<-inv.started

	answered := make(chan string, 1)
	go func() {
		reply, _ := m.Dispatch(context.Background(), "s", "/history")
		answered <- reply.Text
	}()

	select {
	case <-answered:
	case <-time.After(2 * time.Second):
		t.Fatal("/history blocked while a run of the same session was in flight")
	}

	close(inv.release)
	require.NoError(t, <-done)
	assert.Len(t, m.Session("s").History, 1)
}
