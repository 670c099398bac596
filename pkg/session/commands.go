package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aretw0/neonflow/pkg/domain"
)

// Default prompts used when /run is given none.
const (
	DefaultRunPrompt    = "Run"
	DefaultRunAllPrompt = "Run all"
)

// HelpText lists the chat commands.
const HelpText = `Commands:
  /run <workflow|all> [prompt]  run a workflow (or every workflow)
  /workflow [name]              show or select the active workflow
  /list                         list workflows
  /agent <n|none|list>          start the active workflow at node n
  /history                      show runs started from this session
  /save                         write all workflows back to their definition file
  /help                         show this help
Any other line runs the active workflow with the line as input.`

// Reply is the answer to one chat line.
type Reply struct {
	Text    string
	Results []*domain.RunResult
}

// Dispatch interprets one chat line for the session. Lines starting with "/" are
// commands; anything else runs the active workflow with "User: <line>" as input.
//
// Failed or aborted runs are reported in the Reply, not as an error. Errors are
// reserved for lines that could not be acted on (unknown command or workflow,
// bad arguments).
//
// Session state is only locked while it is read or updated, never while a
// workflow runs, so other lines of the same session are answered meanwhile.
func (m *Manager) Dispatch(ctx context.Context, sessionID, line string) (Reply, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Reply{}, nil
	}
	if !strings.HasPrefix(line, "/") {
		res, err := m.RunActive(ctx, sessionID, "User: "+line)
		if res == nil {
			return Reply{}, err
		}
		return Reply{Text: describe(res), Results: []*domain.RunResult{res}}, nil
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/run":
		return m.cmdRun(ctx, sessionID, args)
	case "/workflow":
		return m.cmdWorkflow(sessionID, args)
	case "/list":
		return Reply{Text: m.describeWorkflows(m.Session(sessionID).Workflow)}, nil
	case "/agent":
		return m.cmdAgent(sessionID, args)
	case "/history":
		return Reply{Text: describeHistory(m.Session(sessionID).History)}, nil
	case "/save":
		return m.cmdSave(ctx)
	case "/help":
		return Reply{Text: HelpText}, nil
	}
	return Reply{}, fmt.Errorf("%w: %s", domain.ErrUnknownCommand, cmd)
}

func (m *Manager) cmdRun(ctx context.Context, sessionID string, args []string) (Reply, error) {
	if len(args) == 0 {
		return Reply{}, fmt.Errorf("usage: /run <workflow>|all [optional prompt]")
	}
	name, prompt := args[0], strings.Join(args[1:], " ")

	if name == "all" {
		if prompt == "" {
			prompt = DefaultRunAllPrompt
		}
		results, _ := m.RunAll(ctx, prompt)
		m.record(sessionID, results...)

		lines := []string{"Running all workflows"}
		for _, res := range results {
			if res != nil {
				lines = append(lines, describe(res))
			}
		}
		return Reply{Text: strings.Join(lines, "\n"), Results: results}, nil
	}

	if prompt == "" {
		prompt = DefaultRunPrompt
	}
	if err := m.Select(sessionID, name); err != nil {
		return Reply{}, err
	}
	res, err := m.RunWorkflow(ctx, name, prompt)
	if res == nil {
		return Reply{}, err
	}
	m.record(sessionID, res)
	return Reply{
		Text:    fmt.Sprintf("Running workflow '%s' with prompt: %s\n%s", name, prompt, describe(res)),
		Results: []*domain.RunResult{res},
	}, nil
}

func (m *Manager) cmdWorkflow(sessionID string, args []string) (Reply, error) {
	if len(args) == 0 {
		return Reply{Text: m.describeWorkflows(m.Session(sessionID).Workflow)}, nil
	}
	if err := m.Select(sessionID, args[0]); err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("Active workflow: %s", args[0])}, nil
}

func (m *Manager) cmdAgent(sessionID string, args []string) (Reply, error) {
	s := m.Session(sessionID)
	if len(args) == 0 {
		current := "Currently selected: Default routing"
		if s.Agent != nil {
			current = fmt.Sprintf("Currently selected: Agent %d", *s.Agent)
		}
		return Reply{Text: "Usage: /agent <number|none|list>\n" + current}, nil
	}

	switch args[0] {
	case "list":
		wf, err := m.active(s)
		if err != nil {
			return Reply{}, err
		}
		lines := []string{fmt.Sprintf("Available agents in workflow '%s':", wf.Name)}
		for _, n := range wf.Nodes {
			lines = append(lines, fmt.Sprintf("%d. %s - %s", n.ID, n.Kind, strings.Join(n.Files, ";")))
		}
		return Reply{Text: strings.Join(lines, "\n")}, nil
	case "none":
		if err := m.SelectNode(sessionID, nil); err != nil {
			return Reply{}, err
		}
		return Reply{Text: "Cleared agent selection. Will use default workflow routing."}, nil
	}

	id, err := strconv.Atoi(args[0])
	if err != nil || id < 0 {
		return Reply{}, fmt.Errorf("invalid agent number %q: use /agent <number> or /agent none", args[0])
	}
	if err := m.SelectNode(sessionID, &id); err != nil {
		return Reply{}, err
	}
	return Reply{Text: fmt.Sprintf("Selected agent %d. Messages will start at this agent.", id)}, nil
}

func (m *Manager) cmdSave(ctx context.Context) (Reply, error) {
	if m.saver == nil {
		return Reply{}, fmt.Errorf("saving is not enabled")
	}
	if err := m.saver(ctx, m.Workflows()); err != nil {
		return Reply{}, fmt.Errorf("save: %w", err)
	}
	return Reply{Text: fmt.Sprintf("Saved %d workflows", len(m.workflows))}, nil
}

func (m *Manager) describeWorkflows(active string) string {
	if len(m.workflows) == 0 {
		return "No workflows loaded"
	}
	lines := make([]string, 0, len(m.workflows))
	for _, wf := range m.workflows {
		marker := " "
		if wf.Name == active {
			marker = "*"
		}
		lines = append(lines, fmt.Sprintf("%s %s (%d nodes, model %s)", marker, wf.Name, len(wf.Nodes), wf.Model))
	}
	return strings.Join(lines, "\n")
}

func describe(res *domain.RunResult) string {
	switch res.Status {
	case domain.StatusCompleted:
		return fmt.Sprintf("[%s] completed in %d steps:\n%s", res.Workflow, res.State.Steps, res.FinalOutput)
	default:
		msg := string(res.Status)
		if res.Err != nil {
			msg = res.Err.Error()
		}
		steps := 0
		if res.State != nil {
			steps = res.State.Steps
		}
		return fmt.Sprintf("[%s] %s after %d steps: %s", res.Workflow, res.Status, steps, msg)
	}
}

func describeHistory(history []Entry) string {
	if len(history) == 0 {
		return "No runs yet"
	}
	lines := make([]string, len(history))
	for i, e := range history {
		lines[i] = fmt.Sprintf("%d. %s %s %s", i+1, e.RunID, e.Workflow, e.Status)
	}
	return strings.Join(lines, "\n")
}
