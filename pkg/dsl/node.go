package dsl

import (
	"time"

	"github.com/aretw0/neonflow/pkg/domain"
)

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    domain.Node
	builder *Builder
}

// Prompt sets the template rendered before each invocation.
func (n *NodeBuilder) Prompt(text string) *NodeBuilder {
	n.node.Prompt = text
	return n
}

// File attaches a context file sent with the given role.
func (n *NodeBuilder) File(role, path string) *NodeBuilder {
	n.node.Files = append(n.node.Files, domain.FileRef{Role: role, Path: path}.String())
	return n
}

// MaxIterations sets how many times the node may execute in one run.
func (n *NodeBuilder) MaxIterations(max int) *NodeBuilder {
	n.node.MaxIterations = max
	return n
}

// Delay sets the pause before the node executes again.
func (n *NodeBuilder) Delay(d time.Duration) *NodeBuilder {
	n.node.IterationDelay = d
	return n
}

// OnSuccess routes a successful outcome to target.
func (n *NodeBuilder) OnSuccess(target int) *NodeBuilder {
	n.node.OnSuccess = domain.Target(target)
	return n
}

// OnFailure routes a failed outcome to target.
func (n *NodeBuilder) OnFailure(target int) *NodeBuilder {
	n.node.OnFailure = domain.Target(target)
	return n
}

// Terminal ends the run after this node whatever the outcome.
func (n *NodeBuilder) Terminal() *NodeBuilder {
	n.node.OnSuccess = domain.End
	n.node.OnFailure = domain.End
	return n
}

// Then continues building on the parent workflow.
func (n *NodeBuilder) Then() *Builder {
	return n.builder
}

// Build returns the underlying domain.Node.
// This is primarily used by the Builder, but exposed for advanced usage.
func (n *NodeBuilder) Build() domain.Node {
	node := n.node
	node.Files = append([]string(nil), n.node.Files...)
	if len(node.Files) == 0 {
		node.Files = nil
	}
	return node
}
