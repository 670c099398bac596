package compiler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/neonflow/internal/dto"
	"github.com/aretw0/neonflow/pkg/domain"
)

// Defaults of the .nm format.
const (
	nmSeparator         = "===="
	nmDefaultName       = "default"
	nmDefaultTraversals = 20
	nmDefaultDelayMS    = 200
)

// ParseNM reads the .nm format: workflows separated by "====", each made of
// "key:value" lines. Unknown lines are ignored and malformed counts fall back
// to their defaults. A routing target that is not an integer is an error.
func ParseNM(text string) ([]dto.WorkflowDefinition, error) {
	var defs []dto.WorkflowDefinition
	for _, section := range strings.Split(text, nmSeparator) {
		if strings.TrimSpace(section) == "" {
			continue
		}
		def, err := parseNMSection(section)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func parseNMSection(section string) (dto.WorkflowDefinition, error) {
	def := dto.WorkflowDefinition{
		Name:              nmDefaultName,
		Model:             domain.DefaultModel,
		MaximumTraversals: nmDefaultTraversals,
	}

	var cur *dto.NodeDefinition
	flush := func() {
		if cur != nil {
			def.Nodes = append(def.Nodes, *cur)
			cur = nil
		}
	}

	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		if strings.HasPrefix(key, "agent_") {
			flush()
			cur = newNMNode(len(def.Nodes), strings.TrimPrefix(key, "agent_"), value)
			continue
		}

		switch key {
		case "workflow":
			def.Name = value
		case "model":
			def.Model = value
		case "temperature":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				def.Temperature = &f
			}
		case "maximum_traversals":
			def.MaximumTraversals = parseInt(value, nmDefaultTraversals)
		}
		if cur == nil {
			continue
		}
		switch key {
		case "files":
			cur.Files = splitFiles(strings.Trim(value, `"`))
		case "maximum_iterations":
			n := parseInt(value, domain.DefaultMaxIterations)
			cur.MaxIterations = &n
		case "iteration_delay_ms":
			cur.IterationDelayMS = parseInt(value, nmDefaultDelayMS)
		case "on_success", "on_failure":
			target, err := nmTarget(value)
			if err != nil {
				return def, fmt.Errorf("workflow %s: agent %d: %s: %w", def.Name, *cur.ID+1, key, err)
			}
			if key == "on_success" {
				cur.OnSuccess = target
			} else {
				cur.OnFailure = target
			}
		}
	}
	flush()

	if len(def.Nodes) == 0 {
		def.Nodes = append(def.Nodes, *newNMNode(0, "1", string(domain.KindAgent)))
	}
	return def, nil
}

// newNMNode starts a node from an "agent_N: Type" line. The id is N-1, or the
// position when N is not a number.
func newNMNode(pos int, number, kind string) *dto.NodeDefinition {
	id := pos
	if n, err := strconv.Atoi(strings.TrimSpace(number)); err == nil && n > 0 {
		id = n - 1
	}
	max := domain.DefaultMaxIterations
	return &dto.NodeDefinition{
		ID:               &id,
		Type:             nmKind(kind),
		MaxIterations:    &max,
		IterationDelayMS: nmDefaultDelayMS,
	}
}

func nmKind(s string) string {
	switch {
	case strings.Contains(s, "Validator"):
		return string(domain.KindValidator)
	default:
		// ParallelAgent runs as a plain Agent.
		return string(domain.KindAgent)
	}
}

// nmTarget reads a routing target. Empty and -1 mean the terminal sentinel;
// other integers pass through so graph validation can reject dangling ones.
func nmTarget(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("invalid routing target %q", s)
	}
	if n == int(domain.End) {
		return nil, nil
	}
	return &n, nil
}

func splitFiles(s string) []string {
	var files []string
	for _, f := range strings.Split(s, ";") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files
}

func parseInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

// EncodeNM writes workflows in the .nm format. A node's prompt file is written
// back as its first "user" file; inline prompts have no .nm spelling and are dropped.
func EncodeNM(workflows []domain.Workflow) string {
	var b strings.Builder
	for i, wf := range workflows {
		if i > 0 {
			b.WriteString("\n" + nmSeparator + "\n\n")
		}
		fmt.Fprintf(&b, "workflow:%s\n", wf.Name)
		fmt.Fprintf(&b, "model:%s\n", wf.Model)
		if wf.Temperature != nil {
			fmt.Fprintf(&b, "temperature:%s\n", strconv.FormatFloat(*wf.Temperature, 'f', -1, 64))
		}
		fmt.Fprintf(&b, "maximum_traversals:%d\n", wf.MaxTraversals)

		nodes := append([]domain.Node(nil), wf.Nodes...)
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
		for _, n := range nodes {
			kind := "Agent"
			if n.IsValidator() {
				kind = "ValidatorAgent"
			}
			files := make([]string, 0, len(n.Files)+1)
			if n.PromptFile != "" {
				files = append(files, domain.FileRef{Role: domain.RoleUser, Path: n.PromptFile}.String())
			}
			files = append(files, n.Files...)

			fmt.Fprintf(&b, "agent_%d: %s\n", n.ID+1, kind)
			fmt.Fprintf(&b, "files:\"%s\"\n", strings.Join(files, ";"))
			fmt.Fprintf(&b, "maximum_iterations:%d\n", n.MaxIterations)
			fmt.Fprintf(&b, "iteration_delay_ms:%d\n", n.IterationDelay.Milliseconds())
			fmt.Fprintf(&b, "on_success:%d\n", int(n.OnSuccess))
			fmt.Fprintf(&b, "on_failure:%d\n", int(n.OnFailure))
		}
	}
	return b.String()
}
