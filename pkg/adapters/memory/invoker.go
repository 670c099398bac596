// Package memory provides in-process adapters: a run archive and canned invokers
// for offline runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/aretw0/neonflow/pkg/domain"
)

// Echo returns the rendered prompt unchanged.
type Echo struct{}

// Invoke returns prompt.
func (Echo) Invoke(ctx context.Context, prompt string, nc domain.NodeContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return prompt, nil
}

// Reply is one scripted answer. A non-nil Err is returned instead of Output.
type Reply struct {
	Output string
	Err    error
}

// Script answers each node from its own queue of replies. The last reply of a
// queue repeats once the queue is drained; nodes without a queue are echoed.
// Queues are shared by every run using the Script.
type Script struct {
	mu      sync.Mutex
	replies map[int][]Reply
	calls   map[int]int
}

// NewScript creates a Script from per-node replies.
func NewScript(replies map[int][]Reply) *Script {
	return &Script{replies: replies, calls: make(map[int]int)}
}

// Invoke pops the next reply for the node.
func (s *Script) Invoke(ctx context.Context, prompt string, nc domain.NodeContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := nc.Node.ID
	s.calls[id]++
	queue := s.replies[id]
	if len(queue) == 0 {
		return prompt, nil
	}
	r := queue[0]
	if len(queue) > 1 {
		s.replies[id] = queue[1:]
	}
	return r.Output, r.Err
}

// Calls reports how many times a node was invoked.
func (s *Script) Calls(nodeID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[nodeID]
}
