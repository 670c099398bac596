package dsl

import (
	"fmt"
	"sort"

	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/aretw0/neonflow/pkg/graph"
)

// Builder manages the workflow construction.
type Builder struct {
	wf    domain.Workflow
	nodes map[int]*NodeBuilder
}

// New creates a new workflow builder with the default model. The temperature is
// left to the transport unless set.
func New(name string) *Builder {
	return &Builder{
		wf: domain.Workflow{
			Name:  name,
			Model: domain.DefaultModel,
		},
		nodes: make(map[int]*NodeBuilder),
	}
}

// Model sets the model forwarded to the invoker.
func (b *Builder) Model(model string) *Builder {
	b.wf.Model = model
	return b
}

// Temperature sets the sampling temperature forwarded to the invoker.
func (b *Builder) Temperature(t float64) *Builder {
	b.wf.Temperature = &t
	return b
}

// MaxTraversals caps the total number of steps of a run. Zero disables the cap.
func (b *Builder) MaxTraversals(n int) *Builder {
	b.wf.MaxTraversals = n
	return b
}

// Entry sets the node runs start from (default 0).
func (b *Builder) Entry(id int) *Builder {
	b.wf.Entry = id
	return b
}

// Agent adds a generative node.
// If the node already exists, it returns the existing builder.
func (b *Builder) Agent(id int) *NodeBuilder {
	return b.add(id, domain.KindAgent)
}

// Validator adds a node whose output is judged as JSON.
// If the node already exists, it returns the existing builder.
func (b *Builder) Validator(id int) *NodeBuilder {
	return b.add(id, domain.KindValidator)
}

func (b *Builder) add(id int, kind domain.NodeKind) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node: domain.Node{
			ID:            id,
			Kind:          kind,
			MaxIterations: domain.DefaultMaxIterations,
			OnSuccess:     domain.End,
			OnFailure:     domain.End,
		},
		builder: b,
	}
	b.nodes[id] = nb
	return nb
}

// Workflow returns the definition built so far, nodes ordered by id.
func (b *Builder) Workflow() domain.Workflow {
	wf := b.wf
	wf.Nodes = make([]domain.Node, 0, len(b.nodes))
	for _, nb := range b.nodes {
		wf.Nodes = append(wf.Nodes, nb.Build())
	}
	sort.Slice(wf.Nodes, func(i, j int) bool { return wf.Nodes[i].ID < wf.Nodes[j].ID })
	return wf
}

// Build validates the workflow and returns the immutable graph.
func (b *Builder) Build() (*graph.Graph, error) {
	g, err := graph.Load(b.Workflow())
	if err != nil {
		return nil, fmt.Errorf("failed to build workflow %s: %w", b.wf.Name, err)
	}
	return g, nil
}
