package domain

import "time"

// ValidationMode tells how a verdict was reached.
type ValidationMode string

const (
	ModeNone     ValidationMode = "none"     // No parseable JSON
	ModeImplicit ValidationMode = "implicit" // Well-formed structure is the success signal
	ModeExplicit ValidationMode = "explicit" // Object carried a boolean "valid" field
)

// ValidationResult is the verdict of judging one raw output.
type ValidationResult struct {
	Valid       bool           `json:"valid"`
	Extracted   any            `json:"extracted,omitempty"`
	Diagnostics any            `json:"diagnostics,omitempty"`
	Error       string         `json:"error,omitempty"`
	Mode        ValidationMode `json:"mode"`
}

// NodeContext is handed to the invoker together with the rendered prompt.
type NodeContext struct {
	WorkflowID  string
	RunID       string
	Node        Node
	Visit       int // 1-based visit number of this execution
	Model       string
	Temperature *float64 // nil leaves the transport default
	Variables   Variables
}

// RunResult is the terminal outcome of a traversal.
type RunResult struct {
	RunID       string
	Workflow    string
	Status      RunStatus
	FinalOutput string
	Err         error
	State       *TraversalState
	Variables   Variables

	// LastValidation is the most recent verdict produced by a Validator node.
	LastValidation *ValidationResult

	StartedAt  time.Time
	FinishedAt time.Time
}

// Record converts the result into its archived form.
func (r *RunResult) Record() *RunRecord {
	rec := &RunRecord{
		RunID:       r.RunID,
		Workflow:    r.Workflow,
		Status:      r.Status,
		FinalOutput: r.FinalOutput,
		State:       r.State,
		Variables:   r.Variables,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// RunRecord is the serialisable archive entry of a finished run.
type RunRecord struct {
	RunID       string          `json:"run_id"`
	Workflow    string          `json:"workflow"`
	Status      RunStatus       `json:"status"`
	FinalOutput string          `json:"final_output"`
	Error       string          `json:"error,omitempty"`
	State       *TraversalState `json:"state,omitempty"`
	Variables   Variables       `json:"variables,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}
