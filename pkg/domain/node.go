package domain

import (
	"fmt"
	"strings"
	"time"
)

// NodeKind defines how a node's output is interpreted.
type NodeKind string

const (
	// KindAgent produces free text; its routing outcome is Success unless invocation fails.
	KindAgent NodeKind = "Agent"
	// KindValidator produces a JSON-structured judgment that decides the routing outcome.
	KindValidator NodeKind = "Validator"
)

// ParseNodeKind accepts the spellings found in definition files
// ("Agent", "Validator", "ValidatorAgent", "ParallelAgent"), case-insensitively.
// An empty string defaults to KindAgent.
func ParseNodeKind(s string) (NodeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "agent", "parallelagent", "parallel":
		return KindAgent, nil
	case "validator", "validatoragent":
		return KindValidator, nil
	default:
		return "", fmt.Errorf("unknown node type %q", s)
	}
}

// Target is a routing destination: a node id, or End.
type Target int

// End is the terminal sentinel. It is the only value that terminates a run;
// every non-negative target, including 0, addresses a real node.
const End Target = -1

// IsEnd reports whether the target terminates the workflow.
func (t Target) IsEnd() bool { return t == End }

func (t Target) String() string {
	if t.IsEnd() {
		return "end"
	}
	return fmt.Sprintf("%d", int(t))
}

// Default values applied by the definition compiler.
const (
	DefaultMaxIterations = 3
	DefaultModel         = "z-ai/glm-4.5"
	DefaultTemperature   = 0.7
)

// Node represents a logical unit in the workflow graph.
type Node struct {
	ID   int      `json:"id" yaml:"id"`
	Kind NodeKind `json:"type" yaml:"type"`

	// Prompt is the raw template text rendered before every invocation.
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`

	// PromptFile is where Prompt was read from, when it came from a file.
	PromptFile string `json:"prompt_file,omitempty" yaml:"prompt_file,omitempty"`

	// Files lists extra context documents, optionally prefixed with a chat role
	// ("system:rules.md", "role:user:task.poml").
	Files []string `json:"files,omitempty" yaml:"files,omitempty"`

	// MaxIterations bounds how many times this node may be entered within one run.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	OnSuccess Target `json:"on_success" yaml:"on_success"`
	OnFailure Target `json:"on_failure" yaml:"on_failure"`

	// IterationDelay is waited before re-entering a node that was already visited.
	IterationDelay time.Duration `json:"iteration_delay,omitempty" yaml:"iteration_delay,omitempty"`
}

// IsValidator reports whether the node output must be judged.
func (n Node) IsValidator() bool { return n.Kind == KindValidator }

// Workflow is a named workflow definition as produced by the compiler.
// It carries no runtime state.
type Workflow struct {
	Name        string  `json:"name" yaml:"name"`
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"`
	// Temperature overrides the transport's sampling temperature when set.
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`

	// MaxTraversals caps the total number of steps of a run. Zero disables the cap.
	MaxTraversals int `json:"maximum_traversals,omitempty" yaml:"maximum_traversals,omitempty"`

	Entry int    `json:"entry" yaml:"entry"`
	Nodes []Node `json:"nodes" yaml:"nodes"`

	// Source is the file the workflow was read from, if any.
	Source string `json:"-" yaml:"-"`
}

// Chat roles accepted in node file references.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FileRef is a parsed entry of Node.Files.
type FileRef struct {
	Role string
	Path string
}

// ParseFileRef splits "role:user:path", "user:path" or a bare "path".
// Bare paths default to the system role.
func ParseFileRef(s string) FileRef {
	s = strings.TrimSpace(s)
	rest := strings.TrimPrefix(s, "role:")
	if role, path, ok := strings.Cut(rest, ":"); ok {
		switch strings.ToLower(role) {
		case RoleSystem, RoleUser, RoleAssistant:
			return FileRef{Role: strings.ToLower(role), Path: strings.TrimSpace(path)}
		}
	}
	return FileRef{Role: RoleSystem, Path: s}
}

// String formats the reference the way definition files spell it.
func (f FileRef) String() string {
	return "role:" + f.Role + ":" + f.Path
}
