package session

import (
	"time"

	"github.com/aretw0/neonflow/pkg/domain"
)

// Session holds the choices of one interactive caller.
type Session struct {
	ID string

	// Workflow is the active workflow name; plain messages run it.
	Workflow string

	// Agent overrides the entry node of the active workflow. Nil uses the
	// workflow's own entry.
	Agent *int

	History []Entry
}

// Entry summarises one run started from a session.
type Entry struct {
	RunID    string           `json:"run_id"`
	Workflow string           `json:"workflow"`
	Status   domain.RunStatus `json:"status"`
	Output   string           `json:"output"`
	Error    string           `json:"error,omitempty"`
	At       time.Time        `json:"at"`
}

func newEntry(res *domain.RunResult) Entry {
	e := Entry{
		RunID:    res.RunID,
		Workflow: res.Workflow,
		Status:   res.Status,
		Output:   res.FinalOutput,
		At:       res.FinishedAt,
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	return e
}

func (s *Session) clone() *Session {
	out := *s
	if s.Agent != nil {
		agent := *s.Agent
		out.Agent = &agent
	}
	out.History = append([]Entry(nil), s.History...)
	return &out
}
