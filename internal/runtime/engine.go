package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/neonflow/internal/logging"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/aretw0/neonflow/pkg/graph"
	"github.com/aretw0/neonflow/pkg/ports"
	"github.com/aretw0/neonflow/pkg/prompt"
	"github.com/aretw0/neonflow/pkg/validator"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/aretw0/neonflow"

// Renderer renders a node prompt against the run's variables.
type Renderer interface {
	Render(ctx context.Context, text string, vars domain.Variables) (string, error)
}

// Engine drives workflow runs. It holds no per-run state: every call to Run owns
// a private TraversalState and variable store, so one Engine can serve many
// concurrent runs over the same graph.
type Engine struct {
	invoker       ports.Invoker
	renderer      Renderer
	judge         func(string) domain.ValidationResult
	hooks         domain.LifecycleHooks
	logger        *slog.Logger
	tracer        trace.Tracer
	invokeTimeout time.Duration
	newID         func() string
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a new engine around an invoker.
func NewEngine(invoker ports.Invoker, opts ...Option) *Engine {
	e := &Engine{
		invoker:  invoker,
		renderer: prompt.New(),
		judge:    validator.Judge,
		logger:   logging.NewNop(),
		tracer:   otel.Tracer(tracerName),
		newID:    uuid.NewString,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run bundles the mutable pieces of one traversal.
type run struct {
	graph    *graph.Graph
	workflow domain.Workflow
	state    *domain.TraversalState
	vars     domain.Variables
	result   *domain.RunResult
	renderer Renderer
	logger   *slog.Logger
}

// Run executes the graph from entry until the workflow terminates, a node
// exhausts its iteration budget, or ctx is canceled.
//
// A completed run returns a nil error. Aborted and canceled runs return the
// populated result together with the error that stopped them
// (*domain.IterationLimitError, *domain.TraversalLimitError or a wrapped ctx.Err()).
func (e *Engine) Run(ctx context.Context, g *graph.Graph, entry int, input string, opts ...RunOption) (*domain.RunResult, error) {
	if g == nil {
		return nil, fmt.Errorf("run: nil graph")
	}
	if _, ok := g.Node(entry); !ok {
		return nil, &domain.GraphError{Kind: domain.DanglingReference, NodeID: entry, Field: "entry"}
	}

	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.runID == "" {
		cfg.runID = e.newID()
	}

	vars := domain.NewVariables(input)
	for k, v := range cfg.variables {
		if k == domain.VarInput || k == domain.VarOutput {
			continue
		}
		vars[k] = v
	}

	renderer := e.renderer
	if cfg.renderer != nil {
		renderer = cfg.renderer
	}

	r := &run{
		graph:    g,
		workflow: g.Workflow(),
		state:    domain.NewTraversalState(cfg.runID, g.Name(), entry),
		vars:     vars,
		result: &domain.RunResult{
			RunID:     cfg.runID,
			Workflow:  g.Name(),
			Status:    domain.StatusRunning,
			StartedAt: e.now(),
		},
		renderer: renderer,
		logger:   e.logger.With("run_id", cfg.runID, "workflow", g.Name()),
	}

	ctx, span := e.tracer.Start(ctx, "neonflow.run", trace.WithAttributes(
		attribute.String("run.id", cfg.runID),
		attribute.String("workflow", g.Name()),
		attribute.Int("entry", entry),
	))
	defer span.End()

	r.logger.Info("Run started", "entry", entry, "nodes", g.NodeCount())
	res, err := e.loop(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return res, err
}

func (e *Engine) loop(ctx context.Context, r *run) (*domain.RunResult, error) {
	maxSteps := r.workflow.MaxTraversals

	for {
		// Cancellation point: nothing below has run for this step yet.
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, r, domain.StatusCanceled, fmt.Errorf("run canceled: %w", err))
		}

		node, ok := r.graph.Node(r.state.CurrentNode)
		if !ok {
			// Unreachable for graphs built by graph.Load.
			return e.finish(ctx, r, domain.StatusAborted, &domain.GraphError{
				Kind: domain.DanglingReference, NodeID: r.state.CurrentNode, Field: "current",
			})
		}

		visits := r.state.Visits(node.ID)
		if visits >= node.MaxIterations {
			return e.finish(ctx, r, domain.StatusAborted, &domain.IterationLimitError{NodeID: node.ID, Visits: visits})
		}
		if maxSteps > 0 && r.state.Steps >= maxSteps {
			return e.finish(ctx, r, domain.StatusAborted, &domain.TraversalLimitError{Limit: maxSteps})
		}

		if visits > 0 && node.IterationDelay > 0 {
			if err := e.sleep(ctx, node.IterationDelay); err != nil {
				return e.finish(ctx, r, domain.StatusCanceled, fmt.Errorf("run canceled: %w", err))
			}
		}

		next, err := e.step(ctx, r, node)
		if err != nil {
			return e.finish(ctx, r, domain.StatusCanceled, err)
		}

		if next.IsEnd() {
			r.result.FinalOutput = r.vars.Text(domain.VarOutput)
			return e.finish(ctx, r, domain.StatusCompleted, nil)
		}
		r.state.CurrentNode = int(next)
	}
}

// step executes one node and records the transition. It only returns an error
// when ctx was canceled during the invocation; the step is then not recorded.
func (e *Engine) step(ctx context.Context, r *run, node domain.Node) (domain.Target, error) {
	visit := r.state.Visits(node.ID) + 1
	logger := r.logger.With("node", node.ID, "kind", node.Kind, "visit", visit)

	ctx, span := e.tracer.Start(ctx, "neonflow.node", trace.WithAttributes(
		attribute.Int("node.id", node.ID),
		attribute.String("node.kind", string(node.Kind)),
		attribute.Int("node.visit", visit),
	))
	defer span.End()

	e.emitNodeEnter(ctx, r, node, visit)

	rendered, warn := r.renderer.Render(ctx, node.Prompt, r.vars)
	for _, w := range prompt.Warnings(warn) {
		logger.Warn("Template warning", "kind", w.Kind, "name", w.Name, "err", w.Err)
	}

	nc := domain.NodeContext{
		WorkflowID:  r.graph.Name(),
		RunID:       r.state.RunID,
		Node:        node,
		Visit:       visit,
		Model:       r.workflow.Model,
		Temperature: r.workflow.Temperature,
		Variables:   r.vars.Clone(),
	}

	raw, invokeErr := e.invoke(ctx, rendered, nc)
	if invokeErr != nil && ctx.Err() != nil {
		span.SetStatus(codes.Error, "canceled")
		return domain.End, fmt.Errorf("run canceled: %w", ctx.Err())
	}

	var verdict *domain.ValidationResult
	if invokeErr != nil {
		logger.Warn("Transport failure", "err", invokeErr)
		span.RecordError(invokeErr)
	} else {
		r.vars[domain.VarOutput] = raw
		if node.IsValidator() {
			v := e.judge(raw)
			verdict = &v
			r.result.LastValidation = verdict
			if v.Valid {
				logger.Info("Validation passed", "mode", v.Mode)
			} else {
				logger.Info("Validation failed", "mode", v.Mode, "reason", v.Error)
			}
		}
	}

	outcome := OutcomeFor(node, invokeErr, verdict)
	next := Resolve(node, outcome)

	r.state.VisitCounts[node.ID] = visit
	r.state.Steps++
	r.state.History = append(r.state.History, domain.HistoryEntry{
		From:      node.ID,
		To:        next,
		Reason:    outcome,
		Timestamp: e.now(),
	})

	span.SetAttributes(attribute.String("outcome", string(outcome)), attribute.String("next", next.String()))
	logger.Debug("Transition", "outcome", outcome, "next", next.String())

	e.emitNodeLeave(ctx, r, node, visit)
	e.emitTransition(ctx, r, node.ID, next, outcome, verdict)
	return next, nil
}

func (e *Engine) invoke(ctx context.Context, rendered string, nc domain.NodeContext) (string, error) {
	if e.invoker == nil {
		return "", &domain.TransportError{NodeID: nc.Node.ID, Cause: errors.New("no invoker configured")}
	}
	callCtx := ctx
	if e.invokeTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.invokeTimeout)
		defer cancel()
	}

	start := e.now()
	raw, err := e.invoker.Invoke(callCtx, rendered, nc)
	if err != nil {
		err = &domain.TransportError{NodeID: nc.Node.ID, Cause: err}
	}

	if e.hooks.OnInvoke != nil {
		e.hooks.OnInvoke(ctx, &domain.InvokeEvent{
			EventBase: e.base(domain.EventInvoke, nc.RunID, nc.WorkflowID),
			NodeID:    nc.Node.ID,
			Duration:  e.now().Sub(start),
			Err:       err,
		})
	}
	return raw, err
}

func (e *Engine) finish(ctx context.Context, r *run, status domain.RunStatus, err error) (*domain.RunResult, error) {
	r.state.Status = status
	res := r.result
	res.Status = status
	res.Err = err
	res.State = r.state
	res.Variables = r.vars
	res.FinishedAt = e.now()

	switch status {
	case domain.StatusCompleted:
		r.logger.Info("Run completed", "steps", r.state.Steps)
	case domain.StatusCanceled:
		r.logger.Warn("Run canceled", "steps", r.state.Steps, "err", err)
	default:
		r.logger.Error("Run aborted", "steps", r.state.Steps, "err", err)
	}

	if e.hooks.OnRunEnd != nil {
		e.hooks.OnRunEnd(ctx, &domain.RunEvent{
			EventBase: e.base(domain.EventRunEnd, r.state.RunID, r.graph.Name()),
			Status:    status,
			Steps:     r.state.Steps,
			Err:       err,
		})
	}
	return res, err
}

func (e *Engine) base(t domain.EventType, runID, workflowID string) domain.EventBase {
	return domain.EventBase{Timestamp: e.now(), Type: t, RunID: runID, WorkflowID: workflowID}
}

func (e *Engine) emitNodeEnter(ctx context.Context, r *run, node domain.Node, visit int) {
	if e.hooks.OnNodeEnter == nil {
		return
	}
	e.hooks.OnNodeEnter(ctx, &domain.NodeEvent{
		EventBase: e.base(domain.EventNodeEnter, r.state.RunID, r.graph.Name()),
		NodeID:    node.ID,
		Kind:      node.Kind,
		Visit:     visit,
	})
}

func (e *Engine) emitNodeLeave(ctx context.Context, r *run, node domain.Node, visit int) {
	if e.hooks.OnNodeLeave == nil {
		return
	}
	e.hooks.OnNodeLeave(ctx, &domain.NodeEvent{
		EventBase: e.base(domain.EventNodeLeave, r.state.RunID, r.graph.Name()),
		NodeID:    node.ID,
		Kind:      node.Kind,
		Visit:     visit,
	})
}

func (e *Engine) emitTransition(ctx context.Context, r *run, from int, next domain.Target, outcome domain.Outcome, verdict *domain.ValidationResult) {
	if e.hooks.OnTransition == nil {
		return
	}
	evt := &domain.TransitionEvent{
		EventBase: e.base(domain.EventTransition, r.state.RunID, r.graph.Name()),
		From:      from,
		To:        next,
		Terminate: next.IsEnd(),
		Outcome:   outcome,
	}
	if verdict != nil {
		valid := verdict.Valid
		evt.Valid = &valid
	}
	e.hooks.OnTransition(ctx, evt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
