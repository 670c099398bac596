package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/neonflow/internal/runtime"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/aretw0/neonflow/pkg/graph"
	"github.com/aretw0/neonflow/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustGraph(t *testing.T, nodes ...domain.Node) *graph.Graph {
	t.Helper()
	g, err := graph.Load(domain.Workflow{Name: "wf", Nodes: nodes})
	require.NoError(t, err)
	return g
}

func agent(id int, success, failure domain.Target, max int) domain.Node {
	return domain.Node{ID: id, Kind: domain.KindAgent, Prompt: fmt.Sprintf("node %d", id), OnSuccess: success, OnFailure: failure, MaxIterations: max}
}

func validatorNode(id int, success, failure domain.Target, max int) domain.Node {
	n := agent(id, success, failure, max)
	n.Kind = domain.KindValidator
	return n
}

func constant(out string) ports.Invoker {
	return ports.InvokerFunc(func(context.Context, string, domain.NodeContext) (string, error) {
		return out, nil
	})
}

func TestEngine_ValidatorNeverSatisfied(t *testing.T) {
	g := mustGraph(t,
		agent(0, 1, 0, 3),
		validatorNode(1, domain.End, 0, 2),
	)
	engine := runtime.NewEngine(constant("no json here"))

	res, err := engine.Run(context.Background(), g, 0, "go")

	var limit *domain.IterationLimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, 1, limit.NodeID)
	assert.Equal(t, 2, limit.Visits)
	assert.ErrorIs(t, err, domain.ErrIterationLimit)

	assert.Equal(t, domain.StatusAborted, res.Status)
	assert.Equal(t, []int{0, 1, 0, 1, 0}, res.State.Path())
	assert.Equal(t, 5, res.State.Steps)
	assert.Equal(t, 3, res.State.Visits(0))
	assert.Equal(t, 2, res.State.Visits(1))
	require.NotNil(t, res.LastValidation)
	assert.False(t, res.LastValidation.Valid)
	assert.Equal(t, domain.ModeNone, res.LastValidation.Mode)
}

func TestEngine_SingleExecutionNode(t *testing.T) {
	g := mustGraph(t, agent(0, domain.End, domain.End, 1))
	engine := runtime.NewEngine(constant("done"))

	res, err := engine.Run(context.Background(), g, 0, "hi")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "done", res.FinalOutput)
	assert.Equal(t, 1, res.State.Steps)
	require.Len(t, res.State.History, 1)
	assert.Equal(t, domain.End, res.State.History[0].To)
	assert.Equal(t, domain.Success, res.State.History[0].Reason)
}

func TestEngine_NodeZeroIsAddressable(t *testing.T) {
	g := mustGraph(t,
		agent(1, 0, domain.End, 1),
		agent(0, domain.End, domain.End, 1),
	)
	engine := runtime.NewEngine(ports.InvokerFunc(func(_ context.Context, _ string, nc domain.NodeContext) (string, error) {
		return fmt.Sprintf("out-%d", nc.Node.ID), nil
	}))

	res, err := engine.Run(context.Background(), g, 1, "")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, res.State.Path())
	assert.Equal(t, "out-0", res.FinalOutput)
}

func TestEngine_ValidatorSuccessTerminates(t *testing.T) {
	g := mustGraph(t,
		agent(0, 1, domain.End, 1),
		validatorNode(1, domain.End, 0, 1),
	)
	engine := runtime.NewEngine(ports.InvokerFunc(func(_ context.Context, _ string, nc domain.NodeContext) (string, error) {
		if nc.Node.IsValidator() {
			return `verdict: {"valid": true, "data": {"score": 9}}`, nil
		}
		return "draft", nil
	}))

	res, err := engine.Run(context.Background(), g, 0, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	require.NotNil(t, res.LastValidation)
	assert.True(t, res.LastValidation.Valid)
	assert.Equal(t, domain.ModeExplicit, res.LastValidation.Mode)
	assert.Equal(t, map[string]any{"score": float64(9)}, res.LastValidation.Extracted)
}

func TestEngine_TransportFailureRoutesToFailure(t *testing.T) {
	g := mustGraph(t,
		agent(0, domain.End, 1, 1),
		agent(1, domain.End, domain.End, 1),
	)
	boom := errors.New("connection reset")
	engine := runtime.NewEngine(ports.InvokerFunc(func(_ context.Context, _ string, nc domain.NodeContext) (string, error) {
		if nc.Node.ID == 0 {
			return "", boom
		}
		return "recovered", nil
	}))

	res, err := engine.Run(context.Background(), g, 0, "")
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.FinalOutput)
	require.Len(t, res.State.History, 2)
	assert.Equal(t, domain.Failure, res.State.History[0].Reason)
	assert.Equal(t, domain.Target(1), res.State.History[0].To)
}

func TestEngine_TransportFailureKeepsPreviousOutput(t *testing.T) {
	g := mustGraph(t,
		agent(0, 1, domain.End, 1),
		agent(1, domain.End, domain.End, 1),
	)
	engine := runtime.NewEngine(ports.InvokerFunc(func(_ context.Context, _ string, nc domain.NodeContext) (string, error) {
		if nc.Node.ID == 1 {
			return "", errors.New("unavailable")
		}
		return "first", nil
	}))

	res, err := engine.Run(context.Background(), g, 0, "")
	require.NoError(t, err)
	assert.Equal(t, "first", res.FinalOutput)
}

func TestEngine_InvokeTimeoutIsFailure(t *testing.T) {
	g := mustGraph(t,
		agent(0, domain.End, 1, 1),
		agent(1, domain.End, domain.End, 1),
	)
	engine := runtime.NewEngine(ports.InvokerFunc(func(ctx context.Context, _ string, nc domain.NodeContext) (string, error) {
		if nc.Node.ID == 0 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "fallback", nil
	}), runtime.WithInvokeTimeout(10*time.Millisecond))

	res, err := engine.Run(context.Background(), g, 0, "")
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.FinalOutput)
	assert.Equal(t, domain.Failure, res.State.History[0].Reason)
}

func TestEngine_TerminationBound(t *testing.T) {
	// Every edge loops back into the graph and the invoker always fails.
	g := mustGraph(t,
		agent(0, 1, 2, 4),
		validatorNode(1, 2, 0, 3),
		agent(2, 0, 1, 2),
	)
	engine := runtime.NewEngine(ports.InvokerFunc(func(context.Context, string, domain.NodeContext) (string, error) {
		return "", errors.New("down")
	}))

	res, err := engine.Run(context.Background(), g, 0, "")
	require.ErrorIs(t, err, domain.ErrIterationLimit)
	assert.Equal(t, domain.StatusAborted, res.Status)
	assert.LessOrEqual(t, res.State.Steps, g.Budget())
	for _, n := range g.Nodes() {
		assert.LessOrEqual(t, res.State.Visits(n.ID), n.MaxIterations)
	}
}

func TestEngine_TerminationBoundRandomGraphs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	replies := []string{`{"valid": true}`, `{"valid": false}`, `[1, 2]`, "no json", ""}

	for i := 0; i < 300; i++ {
		size := 1 + rng.Intn(6)
		target := func() domain.Target {
			if rng.Intn(4) == 0 {
				return domain.End
			}
			return domain.Target(rng.Intn(size))
		}
		nodes := make([]domain.Node, size)
		for id := range nodes {
			if rng.Intn(2) == 0 {
				nodes[id] = agent(id, target(), target(), 1+rng.Intn(4))
			} else {
				nodes[id] = validatorNode(id, target(), target(), 1+rng.Intn(4))
			}
		}
		g, err := graph.Load(domain.Workflow{Name: fmt.Sprintf("random-%d", i), Entry: rng.Intn(size), Nodes: nodes})
		require.NoError(t, err)

		var mu sync.Mutex
		outcomes := rand.New(rand.NewSource(rng.Int63()))
		engine := runtime.NewEngine(ports.InvokerFunc(func(context.Context, string, domain.NodeContext) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if outcomes.Intn(5) == 0 {
				return "", errors.New("down")
			}
			return replies[outcomes.Intn(len(replies))], nil
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		res, err := engine.Run(ctx, g, g.Entry(), "go")
		cancel()

		require.NotErrorIs(t, err, context.DeadlineExceeded, "graph %d did not terminate", i)
		if err != nil {
			require.ErrorIs(t, err, domain.ErrIterationLimit, "graph %d", i)
			assert.Equal(t, domain.StatusAborted, res.Status, "graph %d", i)
		} else {
			assert.Equal(t, domain.StatusCompleted, res.Status, "graph %d", i)
		}
		assert.LessOrEqual(t, res.State.Steps, g.Budget(), "graph %d", i)
		for _, n := range g.Nodes() {
			assert.LessOrEqual(t, res.State.Visits(n.ID), n.MaxIterations, "graph %d node %d", i, n.ID)
		}
	}
}

func TestEngine_TraversalCap(t *testing.T) {
	g, err := graph.Load(domain.Workflow{
		Name:          "capped",
		MaxTraversals: 2,
		Nodes: []domain.Node{
			agent(0, 1, domain.End, 10),
			agent(1, 0, domain.End, 10),
		},
	})
	require.NoError(t, err)

	res, err := runtime.NewEngine(constant("x")).Run(context.Background(), g, 0, "")
	var limit *domain.TraversalLimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, 2, limit.Limit)
	assert.Equal(t, 2, res.State.Steps)
}

func TestEngine_OutputFreshness(t *testing.T) {
	n0 := agent(0, 1, domain.End, 1)
	n0.Prompt = "Input: {{nminput}}"
	n1 := agent(1, domain.End, domain.End, 1)
	n1.Prompt = "Previous: {{nmoutput}}"
	g := mustGraph(t, n0, n1)

	var mu sync.Mutex
	prompts := map[int]string{}
	engine := runtime.NewEngine(ports.InvokerFunc(func(_ context.Context, prompt string, nc domain.NodeContext) (string, error) {
		mu.Lock()
		prompts[nc.Node.ID] = prompt
		mu.Unlock()
		return fmt.Sprintf("reply-%d", nc.Node.ID), nil
	}))

	res, err := engine.Run(context.Background(), g, 0, "hello")
	require.NoError(t, err)
	assert.Equal(t, "Input: hello", prompts[0])
	assert.Equal(t, "Previous: reply-0", prompts[1])
	assert.Equal(t, "reply-1", res.FinalOutput)
	assert.Equal(t, "hello", res.Variables.Text(domain.VarInput))
}

func TestEngine_MissingVariableIsNotFatal(t *testing.T) {
	n := agent(0, domain.End, domain.End, 1)
	n.Prompt = "Hi {{name}}"
	g := mustGraph(t, n)

	var got string
	engine := runtime.NewEngine(ports.InvokerFunc(func(_ context.Context, prompt string, _ domain.NodeContext) (string, error) {
		got = prompt
		return "ok", nil
	}))

	res, err := engine.Run(context.Background(), g, 0, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "Hi", got)
}

func TestEngine_SeededVariables(t *testing.T) {
	n := agent(0, domain.End, domain.End, 1)
	n.Prompt = "{{topic}}/{{nminput}}"
	g := mustGraph(t, n)

	var got string
	engine := runtime.NewEngine(ports.InvokerFunc(func(_ context.Context, prompt string, _ domain.NodeContext) (string, error) {
		got = prompt
		return "ok", nil
	}))

	_, err := engine.Run(context.Background(), g, 0, "real",
		runtime.WithVariables(domain.Variables{"topic": "go", domain.VarInput: "spoofed"}),
		runtime.WithRunID("run-1"),
	)
	require.NoError(t, err)
	assert.Equal(t, "go/real", got)
}

func TestEngine_IterationDelay(t *testing.T) {
	n := agent(0, 0, domain.End, 2)
	n.IterationDelay = 50 * time.Millisecond
	g := mustGraph(t, n)

	var delays []time.Duration
	engine := runtime.NewEngine(constant("again"), runtime.WithSleeper(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))

	_, err := engine.Run(context.Background(), g, 0, "")
	require.ErrorIs(t, err, domain.ErrIterationLimit)
	assert.Equal(t, []time.Duration{50 * time.Millisecond}, delays)
}

func TestEngine_CancelDuringInvocation(t *testing.T) {
	g := mustGraph(t, agent(0, domain.End, domain.End, 1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := runtime.NewEngine(ports.InvokerFunc(func(ctx context.Context, _ string, _ domain.NodeContext) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}))

	res, err := engine.Run(ctx, g, 0, "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StatusCanceled, res.Status)
	assert.Equal(t, 0, res.State.Steps)
	assert.Empty(t, res.State.History)
}

func TestEngine_CanceledBeforeStart(t *testing.T) {
	g := mustGraph(t, agent(0, domain.End, domain.End, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	engine := runtime.NewEngine(ports.InvokerFunc(func(context.Context, string, domain.NodeContext) (string, error) {
		called = true
		return "", nil
	}))

	res, err := engine.Run(ctx, g, 0, "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StatusCanceled, res.Status)
	assert.False(t, called)
}

func TestEngine_UnknownEntry(t *testing.T) {
	g := mustGraph(t, agent(0, domain.End, domain.End, 1))
	_, err := runtime.NewEngine(constant("")).Run(context.Background(), g, 7, "")
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)
}

func TestEngine_NoInvoker(t *testing.T) {
	g := mustGraph(t, agent(0, domain.End, 1, 1), agent(1, domain.End, domain.End, 1))
	res, err := runtime.NewEngine(nil).Run(context.Background(), g, 0, "")
	require.NoError(t, err)
	assert.Equal(t, domain.Failure, res.State.History[0].Reason)
}

func TestEngine_ConcurrentRunsAreIsolated(t *testing.T) {
	n0 := agent(0, 1, domain.End, 1)
	n0.Prompt = "{{nminput}}"
	n1 := validatorNode(1, domain.End, domain.End, 1)
	n1.Prompt = `{"valid": true, "data": "{{nmoutput}}"}`
	g := mustGraph(t, n0, n1)

	engine := runtime.NewEngine(ports.InvokerFunc(func(_ context.Context, prompt string, _ domain.NodeContext) (string, error) {
		return prompt, nil
	}))

	const runs = 16
	results := make([]*domain.RunResult, runs)
	errs := make([]error, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Run(context.Background(), g, 0, fmt.Sprintf("input-%d", i))
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i])
		res := results[i]
		assert.Equal(t, 2, res.State.Steps)
		assert.Equal(t, fmt.Sprintf("input-%d", i), res.LastValidation.Extracted)
		assert.True(t, strings.Contains(res.FinalOutput, fmt.Sprintf("input-%d", i)))
		assert.False(t, seen[res.RunID], "run IDs must be unique")
		seen[res.RunID] = true
	}
}

func TestEngine_HooksOrder(t *testing.T) {
	g := mustGraph(t,
		agent(0, 1, domain.End, 1),
		validatorNode(1, domain.End, domain.End, 1),
	)

	var mu sync.Mutex
	var events []string
	record := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}
	var valid *bool
	hooks := domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) { record(fmt.Sprintf("enter:%d", e.NodeID)) },
		OnInvoke:    func(_ context.Context, e *domain.InvokeEvent) { record(fmt.Sprintf("invoke:%d", e.NodeID)) },
		OnNodeLeave: func(_ context.Context, e *domain.NodeEvent) { record(fmt.Sprintf("leave:%d", e.NodeID)) },
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			record(fmt.Sprintf("transition:%d->%s", e.From, e.To))
			if e.Valid != nil {
				valid = e.Valid
			}
		},
		OnRunEnd: func(_ context.Context, e *domain.RunEvent) { record("end:" + string(e.Status)) },
	}

	engine := runtime.NewEngine(constant(`{"valid": false}`), runtime.WithLifecycleHooks(hooks))
	_, err := engine.Run(context.Background(), g, 0, "")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"enter:0", "invoke:0", "leave:0", "transition:0->1",
		"enter:1", "invoke:1", "leave:1", "transition:1->end",
		"end:completed",
	}, events)
	require.NotNil(t, valid)
	assert.False(t, *valid)
}

func TestEngine_NodeContext(t *testing.T) {
	temperature := 0.2
	g, err := graph.Load(domain.Workflow{
		Name:        "ctx",
		Model:       "test-model",
		Temperature: &temperature,
		Nodes:       []domain.Node{agent(0, 0, domain.End, 2)},
	})
	require.NoError(t, err)

	var visits []int
	engine := runtime.NewEngine(ports.InvokerFunc(func(_ context.Context, _ string, nc domain.NodeContext) (string, error) {
		assert.Equal(t, "test-model", nc.Model)
		require.NotNil(t, nc.Temperature)
		assert.Equal(t, 0.2, *nc.Temperature)
		assert.Equal(t, "fixed", nc.RunID)
		visits = append(visits, nc.Visit)
		return "", nil
	}), runtime.WithIDGenerator(func() string { return "fixed" }), runtime.WithSleeper(func(context.Context, time.Duration) error { return nil }))

	_, err = engine.Run(context.Background(), g, 0, "")
	require.ErrorIs(t, err, domain.ErrIterationLimit)
	assert.Equal(t, []int{1, 2}, visits)
}
