// Package dto holds the wire shapes of workflow definition files.
//
// They mirror the YAML/JSON keys with "mapstructure" tags and are converted into
// domain types by the compiler; nothing outside the compiler should depend on them.
package dto

// Document is the top level of a definition file. A file may also describe a
// single workflow at the top level, in which case it is wrapped into Workflows.
type Document struct {
	Workflows []WorkflowDefinition `json:"workflows" yaml:"workflows" mapstructure:"workflows"`
}

type WorkflowDefinition struct {
	Name              string           `json:"name" yaml:"name" mapstructure:"name"`
	Model             string           `json:"model,omitempty" yaml:"model,omitempty" mapstructure:"model"`
	Temperature       *float64         `json:"temperature,omitempty" yaml:"temperature,omitempty" mapstructure:"temperature"`
	MaximumTraversals int              `json:"maximum_traversals,omitempty" yaml:"maximum_traversals,omitempty" mapstructure:"maximum_traversals"`
	Entry             int              `json:"entry" yaml:"entry" mapstructure:"entry"`
	Nodes             []NodeDefinition `json:"nodes" yaml:"nodes" mapstructure:"nodes"`
}

type NodeDefinition struct {
	ID         *int     `json:"id,omitempty" yaml:"id,omitempty" mapstructure:"id"`
	Type       string   `json:"type,omitempty" yaml:"type,omitempty" mapstructure:"type"`
	Prompt     string   `json:"prompt,omitempty" yaml:"prompt,omitempty" mapstructure:"prompt"`
	PromptFile string   `json:"prompt_file,omitempty" yaml:"prompt_file,omitempty" mapstructure:"prompt_file"`
	Files      []string `json:"files,omitempty" yaml:"files,omitempty" mapstructure:"files"`

	MaxIterations    *int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty" mapstructure:"max_iterations"`
	IterationDelayMS int  `json:"iteration_delay_ms,omitempty" yaml:"iteration_delay_ms,omitempty" mapstructure:"iteration_delay_ms"`

	// Nil means -1 (terminate).
	OnSuccess *int `json:"on_success,omitempty" yaml:"on_success,omitempty" mapstructure:"on_success"`
	OnFailure *int `json:"on_failure,omitempty" yaml:"on_failure,omitempty" mapstructure:"on_failure"`
}
