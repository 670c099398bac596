package compiler_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/neonflow/internal/compiler"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleNM = `workflow:review
model:z-ai/glm-4.5
temperature:0.3
maximum_traversals:12
agent_1: Agent
files:""
maximum_iterations:3
iteration_delay_ms:100
on_success:1
on_failure:-1
agent_2: ValidatorAgent
files:""
maximum_iterations:2
on_success:-1
on_failure:0

====

workflow:fanout
agent_1: ParallelAgent
maximum_iterations:oops
`

func TestParseNM(t *testing.T) {
	defs, err := compiler.ParseNM(sampleNM)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	review := defs[0]
	assert.Equal(t, "review", review.Name)
	require.NotNil(t, review.Temperature)
	assert.Equal(t, 0.3, *review.Temperature)
	assert.Equal(t, 12, review.MaximumTraversals)
	require.Len(t, review.Nodes, 2)

	a, v := review.Nodes[0], review.Nodes[1]
	assert.Equal(t, 0, *a.ID)
	assert.Equal(t, "Agent", a.Type)
	assert.Equal(t, 100, a.IterationDelayMS)
	assert.Equal(t, 1, *a.OnSuccess)
	assert.Nil(t, a.OnFailure)

	assert.Equal(t, 1, *v.ID)
	assert.Equal(t, "Validator", v.Type)
	assert.Equal(t, 2, *v.MaxIterations)
	assert.Equal(t, 200, v.IterationDelayMS)
	assert.Nil(t, v.OnSuccess)
	assert.Equal(t, 0, *v.OnFailure)

	fanout := defs[1]
	assert.Equal(t, domain.DefaultModel, fanout.Model)
	assert.Nil(t, fanout.Temperature)
	assert.Equal(t, 20, fanout.MaximumTraversals)
	assert.Equal(t, "Agent", fanout.Nodes[0].Type)
	assert.Equal(t, domain.DefaultMaxIterations, *fanout.Nodes[0].MaxIterations)
}

func TestParseNM_EmptySectionGetsDefaultNode(t *testing.T) {
	defs, err := compiler.ParseNM("workflow:bare\n")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Len(t, defs[0].Nodes, 1)
	assert.Equal(t, 0, *defs[0].Nodes[0].ID)
}

func TestCompile_NM(t *testing.T) {
	wfs, err := compiler.New().Compile(context.Background(), []byte(sampleNM), compiler.FormatNM, "")
	require.NoError(t, err)
	require.Len(t, wfs, 2)

	review := wfs[0]
	assert.Equal(t, 100*time.Millisecond, review.Nodes[0].IterationDelay)
	assert.Equal(t, domain.End, review.Nodes[0].OnFailure)
	assert.Equal(t, domain.End, review.Nodes[1].OnSuccess)
	assert.Equal(t, "{{nminput}}", review.Nodes[0].Prompt)
}

func TestLoadFile_NMPromptSelection(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sys.md", "be terse")
	writeFile(t, dir, "task.poml", "Summarise {{nminput}}")
	path := writeFile(t, dir, "config.nm", `workflow:w
agent_1: Agent
files:"role:system:sys.md;role:user:task.poml"
`)

	wfs, err := compiler.New().LoadFile(context.Background(), path)
	require.NoError(t, err)
	n := wfs[0].Nodes[0]
	assert.Equal(t, "Summarise {{nminput}}", n.Prompt)
	require.Len(t, n.Files, 1)
	assert.True(t, strings.HasSuffix(domain.ParseFileRef(n.Files[0]).Path, "sys.md"))
}

func TestEncodeNM(t *testing.T) {
	wfs := []domain.Workflow{{
		Name:          "review",
		Model:         "m",
		Temperature:   temperature(0.5),
		MaxTraversals: 7,
		Nodes: []domain.Node{
			{ID: 1, Kind: domain.KindValidator, MaxIterations: 2, OnSuccess: domain.End, OnFailure: 0},
			{ID: 0, Kind: domain.KindAgent, MaxIterations: 3, OnSuccess: 1, OnFailure: domain.End,
				IterationDelay: 200 * time.Millisecond, PromptFile: "/p/task.poml", Files: []string{"role:system:/p/sys.md"}},
		},
	}, {
		Name:  "second",
		Model: "m",
		Nodes: []domain.Node{{ID: 0, Kind: domain.KindAgent, MaxIterations: 1, OnSuccess: domain.End, OnFailure: domain.End}},
	}}

	out := compiler.EncodeNM(wfs)
	assert.Contains(t, out, "workflow:review\nmodel:m\ntemperature:0.5\nmaximum_traversals:7\nagent_1: Agent\n")
	assert.Contains(t, out, `files:"role:user:/p/task.poml;role:system:/p/sys.md"`)
	assert.Contains(t, out, "agent_2: ValidatorAgent\n")
	assert.Contains(t, out, "\n====\n\nworkflow:second\nmodel:m\nmaximum_traversals:0\n")
	assert.Less(t, strings.Index(out, "agent_1"), strings.Index(out, "agent_2"))

	defs, err := compiler.ParseNM(out)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, 7, defs[0].MaximumTraversals)
	assert.Equal(t, 1, *defs[0].Nodes[0].OnSuccess)
	assert.Equal(t, 0, *defs[0].Nodes[1].OnFailure)
	assert.Equal(t, "Validator", defs[0].Nodes[1].Type)
	assert.Equal(t, []string{"role:user:/p/task.poml", "role:system:/p/sys.md"}, defs[0].Nodes[0].Files)
}

func TestParseNM_Targets(t *testing.T) {
	defs, err := compiler.ParseNM("workflow:w\nagent_1: Agent\non_success:-1\non_failure:-2\n")
	require.NoError(t, err)
	n := defs[0].Nodes[0]
	assert.Nil(t, n.OnSuccess)
	require.NotNil(t, n.OnFailure)
	assert.Equal(t, -2, *n.OnFailure)

	wfs, err := compiler.New().Compile(context.Background(), []byte("workflow:w\nagent_1: Agent\non_failure:-2\n"), compiler.FormatNM, "")
	require.NoError(t, err)
	assert.Equal(t, domain.Target(-2), wfs[0].Nodes[0].OnFailure)
}

func TestParseNM_NonNumericTarget(t *testing.T) {
	_, err := compiler.ParseNM("workflow:w\nagent_1: Agent\non_success:x\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid routing target "x"`)

	_, err = compiler.New().Compile(context.Background(), []byte("workflow:w\nagent_1: Agent\non_failure:next\n"), compiler.FormatNM, "")
	assert.Error(t, err)
}
