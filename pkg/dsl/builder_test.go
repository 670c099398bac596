package dsl

import (
	"errors"
	"testing"
	"time"

	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_ReviewLoop(t *testing.T) {
	b := New("review").Model("test/model").Temperature(0.2).MaxTraversals(8)

	b.Agent(0).
		Prompt("Draft {{nminput}}").
		File(domain.RoleSystem, "rules.md").
		OnSuccess(1)

	b.Validator(1).
		Prompt("Check {{nmoutput}}").
		MaxIterations(2).
		Delay(50 * time.Millisecond).
		OnFailure(0)

	g, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, "review", g.Name())
	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 5, g.Budget())

	wf := g.Workflow()
	assert.Equal(t, "test/model", wf.Model)
	require.NotNil(t, wf.Temperature)
	assert.Equal(t, 0.2, *wf.Temperature)
	assert.Equal(t, 8, wf.MaxTraversals)

	draft, ok := g.Node(0)
	require.True(t, ok)
	assert.Equal(t, domain.KindAgent, draft.Kind)
	assert.Equal(t, domain.Target(1), draft.OnSuccess)
	assert.Equal(t, domain.End, draft.OnFailure)
	assert.Equal(t, []string{"role:system:rules.md"}, draft.Files)

	check, ok := g.Node(1)
	require.True(t, ok)
	assert.True(t, check.IsValidator())
	assert.Equal(t, domain.End, check.OnSuccess)
	assert.Equal(t, domain.Target(0), check.OnFailure)
	assert.Equal(t, 50*time.Millisecond, check.IterationDelay)
}

func TestBuilder_AddReturnsExisting(t *testing.T) {
	b := New("w")
	first := b.Agent(0).Prompt("a")
	again := b.Agent(0)
	assert.Same(t, first, again)
	assert.Len(t, b.Workflow().Nodes, 1)
}

func TestBuilder_NodesAreOrdered(t *testing.T) {
	b := New("w")
	b.Agent(2).Terminal().Then().Agent(0).OnSuccess(1).Then().Agent(1).OnSuccess(2)

	wf := b.Workflow()
	require.Len(t, wf.Nodes, 3)
	for i, n := range wf.Nodes {
		assert.Equal(t, i, n.ID)
	}
}

func TestBuilder_InvalidGraph(t *testing.T) {
	b := New("broken")
	b.Agent(0).OnSuccess(7)

	_, err := b.Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidGraph))

	var gerr *domain.GraphError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, domain.DanglingReference, gerr.Kind)
}
