package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter  EventType = "node_enter"
	EventNodeLeave  EventType = "node_leave"
	EventInvoke     EventType = "invoke"
	EventTransition EventType = "transition"
	EventRunEnd     EventType = "run_end"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"type"`
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
}

// NodeEvent represents entry into or exit from a node.
type NodeEvent struct {
	EventBase
	NodeID int      `json:"node_id"`
	Kind   NodeKind `json:"kind"`
	Visit  int      `json:"visit"`
}

// InvokeEvent reports the result of one call to the invoker.
type InvokeEvent struct {
	EventBase
	NodeID   int           `json:"node_id"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// TransitionEvent is emitted after every step. It is advisory only.
type TransitionEvent struct {
	EventBase
	From      int     `json:"from"`
	To        Target  `json:"to"`
	Terminate bool    `json:"terminate"`
	Outcome   Outcome `json:"outcome"`

	// Valid is set for Validator nodes whose output was judged.
	Valid *bool `json:"valid,omitempty"`
}

// RunEvent marks the end of a run.
type RunEvent struct {
	EventBase
	Status RunStatus `json:"status"`
	Steps  int       `json:"steps"`
	Err    error     `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
// Hooks run synchronously on the run's goroutine and must not block.
type LifecycleHooks struct {
	OnNodeEnter  func(context.Context, *NodeEvent)
	OnNodeLeave  func(context.Context, *NodeEvent)
	OnInvoke     func(context.Context, *InvokeEvent)
	OnTransition func(context.Context, *TransitionEvent)
	OnRunEnd     func(context.Context, *RunEvent)
}

// ChainHooks merges several hook sets; callbacks fire in argument order.
func ChainHooks(all ...LifecycleHooks) LifecycleHooks {
	var out LifecycleHooks
	for _, h := range all {
		h := h
		out.OnNodeEnter = chain(out.OnNodeEnter, h.OnNodeEnter)
		out.OnNodeLeave = chain(out.OnNodeLeave, h.OnNodeLeave)
		out.OnInvoke = chain(out.OnInvoke, h.OnInvoke)
		out.OnTransition = chain(out.OnTransition, h.OnTransition)
		out.OnRunEnd = chain(out.OnRunEnd, h.OnRunEnd)
	}
	return out
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
