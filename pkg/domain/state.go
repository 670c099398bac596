package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Reserved variable names maintained by the engine.
const (
	VarInput  = "nminput"
	VarOutput = "nmoutput"
)

// RunStatus defines the lifecycle position of a traversal.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusAborted   RunStatus = "aborted"  // Budget exhausted
	StatusCanceled  RunStatus = "canceled" // Stopped by the caller
)

// Outcome is the routing outcome of a single node execution.
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// Variables is the template variable store. Values follow the JSON model:
// string, float64, bool, map[string]any and []any.
type Variables map[string]any

// NewVariables seeds a store with the reserved names.
func NewVariables(input string) Variables {
	return Variables{
		VarInput:  input,
		VarOutput: "",
	}
}

// Clone returns a shallow copy of the store.
func (v Variables) Clone() Variables {
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Text returns the value of name coerced to text.
func (v Variables) Text(name string) string {
	return ToText(v[name])
}

// ToText renders a variable value the way prompts see it.
func ToText(val any) string {
	switch t := val.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		if b, err := json.Marshal(t); err == nil {
			return string(b)
		}
		return fmt.Sprint(t)
	}
}

// HistoryEntry records one transition.
type HistoryEntry struct {
	From      int       `json:"from"`
	To        Target    `json:"to"`
	Reason    Outcome   `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// TraversalState represents the private snapshot of one run.
// It is owned by a single run and never shared.
type TraversalState struct {
	RunID       string         `json:"run_id"`
	WorkflowID  string         `json:"workflow_id"`
	CurrentNode int            `json:"current_node"`
	History     []HistoryEntry `json:"history"`
	VisitCounts map[int]int    `json:"visit_counts"`
	Status      RunStatus      `json:"status"`

	// Steps counts executed nodes across the whole run.
	Steps int `json:"steps"`
}

// NewTraversalState creates a clean state positioned at the entry node.
func NewTraversalState(runID, workflowID string, entry int) *TraversalState {
	return &TraversalState{
		RunID:       runID,
		WorkflowID:  workflowID,
		CurrentNode: entry,
		History:     []HistoryEntry{},
		VisitCounts: make(map[int]int),
		Status:      StatusRunning,
	}
}

// Visits returns how many times a node has been executed.
func (s *TraversalState) Visits(id int) int {
	return s.VisitCounts[id]
}

// Path returns the node ids executed so far, in order.
func (s *TraversalState) Path() []int {
	path := make([]int, 0, len(s.History))
	for _, h := range s.History {
		path = append(path, h.From)
	}
	return path
}
