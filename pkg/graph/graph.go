// Package graph holds the immutable workflow graph built from a definition.
//
// A Graph is validated once by Load and is safe for concurrent readers; runs never
// mutate it.
package graph

import (
	"sort"

	"github.com/aretw0/neonflow/pkg/domain"
)

// Graph is a validated, read-only workflow.
type Graph struct {
	workflow domain.Workflow
	nodes    map[int]domain.Node
	order    []int
}

// Load validates a workflow definition and builds its graph.
// It fails with a *domain.GraphError on the first structural defect found.
func Load(wf domain.Workflow) (*Graph, error) {
	if len(wf.Nodes) == 0 {
		return nil, &domain.GraphError{Kind: domain.EmptyGraph}
	}

	g := &Graph{
		nodes: make(map[int]domain.Node, len(wf.Nodes)),
		order: make([]int, 0, len(wf.Nodes)),
	}

	for _, n := range wf.Nodes {
		if n.ID < 0 {
			return nil, &domain.GraphError{Kind: domain.InvalidID, NodeID: n.ID}
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, &domain.GraphError{Kind: domain.DuplicateID, NodeID: n.ID}
		}
		if n.MaxIterations <= 0 {
			return nil, &domain.GraphError{Kind: domain.InvalidBudget, NodeID: n.ID}
		}
		n.Files = append([]string(nil), n.Files...)
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	sort.Ints(g.order)

	// References are checked after every id is known so forward edges resolve.
	for _, id := range g.order {
		n := g.nodes[id]
		if err := g.checkTarget(n, "on_success", n.OnSuccess); err != nil {
			return nil, err
		}
		if err := g.checkTarget(n, "on_failure", n.OnFailure); err != nil {
			return nil, err
		}
	}

	if _, ok := g.nodes[wf.Entry]; !ok {
		return nil, &domain.GraphError{Kind: domain.DanglingReference, NodeID: wf.Entry, Field: "entry"}
	}

	g.workflow = wf
	g.workflow.Nodes = g.Nodes()
	return g, nil
}

func (g *Graph) checkTarget(n domain.Node, field string, t domain.Target) error {
	if t.IsEnd() {
		return nil
	}
	if _, ok := g.nodes[int(t)]; !ok {
		return &domain.GraphError{Kind: domain.DanglingReference, NodeID: n.ID, Field: field, Target: t}
	}
	return nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id int) (domain.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.order) }

// Nodes returns the nodes ordered by id. The slice is a copy.
func (g *Graph) Nodes() []domain.Node {
	out := make([]domain.Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Entry returns the declared entry node id.
func (g *Graph) Entry() int { return g.workflow.Entry }

// Name returns the workflow name.
func (g *Graph) Name() string { return g.workflow.Name }

// Workflow returns a copy of the definition the graph was built from.
func (g *Graph) Workflow() domain.Workflow {
	wf := g.workflow
	wf.Nodes = g.Nodes()
	return wf
}

// Budget returns the sum of every node's iteration budget, which bounds the
// number of steps any run of this graph can take.
func (g *Graph) Budget() int {
	total := 0
	for _, n := range g.nodes {
		total += n.MaxIterations
	}
	return total
}
