package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidGraph is wrapped by every GraphError.
	ErrInvalidGraph = errors.New("invalid workflow graph")

	// ErrIterationLimit is wrapped by IterationLimitError.
	ErrIterationLimit = errors.New("iteration limit exceeded")

	// ErrTraversalLimit is wrapped by TraversalLimitError.
	ErrTraversalLimit = errors.New("traversal limit exceeded")

	// ErrWorkflowNotFound is returned when a workflow name is not registered.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrRunNotFound is returned when a run ID cannot be found in the store.
	ErrRunNotFound = errors.New("run not found")

	// ErrUnknownCommand is returned for unrecognised chat commands.
	ErrUnknownCommand = errors.New("unknown command")
)

// GraphErrorKind classifies load-time structural defects.
type GraphErrorKind string

const (
	DanglingReference GraphErrorKind = "dangling_reference"
	DuplicateID       GraphErrorKind = "duplicate_id"
	InvalidID         GraphErrorKind = "invalid_id"
	InvalidBudget     GraphErrorKind = "invalid_budget"
	EmptyGraph        GraphErrorKind = "empty_graph"
)

// GraphError rejects a workflow before any run starts.
type GraphError struct {
	Kind   GraphErrorKind
	NodeID int
	Field  string // on_success, on_failure or entry (DanglingReference only)
	Target Target
}

func (e *GraphError) Error() string {
	switch e.Kind {
	case DanglingReference:
		if e.Field == "entry" {
			return fmt.Sprintf("entry node %d does not exist", e.NodeID)
		}
		return fmt.Sprintf("node %d: %s references missing node %d", e.NodeID, e.Field, e.Target)
	case DuplicateID:
		return fmt.Sprintf("duplicate node id %d", e.NodeID)
	case InvalidID:
		return fmt.Sprintf("node id %d must be non-negative", e.NodeID)
	case InvalidBudget:
		return fmt.Sprintf("node %d: max_iterations must be positive", e.NodeID)
	case EmptyGraph:
		return "workflow has no nodes"
	}
	return fmt.Sprintf("graph error %s on node %d", e.Kind, e.NodeID)
}

func (e *GraphError) Unwrap() error { return ErrInvalidGraph }

// IterationLimitError aborts a run whose node exhausted its budget.
type IterationLimitError struct {
	NodeID int
	Visits int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("node %d reached its iteration limit after %d visits", e.NodeID, e.Visits)
}

func (e *IterationLimitError) Unwrap() error { return ErrIterationLimit }

// TraversalLimitError aborts a run that exceeded the workflow-wide step cap.
type TraversalLimitError struct {
	Limit int
}

func (e *TraversalLimitError) Error() string {
	return fmt.Sprintf("run exceeded maximum_traversals (%d steps)", e.Limit)
}

func (e *TraversalLimitError) Unwrap() error { return ErrTraversalLimit }

// TransportError wraps an invocation failure. It is routed, never fatal by itself.
type TransportError struct {
	NodeID int
	Cause  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("node %d: invocation failed: %v", e.NodeID, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }
