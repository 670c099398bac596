// Package compiler turns workflow definition files into domain workflows.
//
// Two formats are understood: YAML/JSON documents and the line-oriented ".nm"
// format. Prompt files are read through afs so definitions may live on any
// storage afs supports.
package compiler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/neonflow/internal/dto"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"
)

// Format identifies a definition file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatNM   Format = "nm"
)

// DetectFormat guesses the format from a file extension. YAML is the fallback.
func DetectFormat(location string) Format {
	switch strings.ToLower(filepath.Ext(location)) {
	case ".nm":
		return FormatNM
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Compiler reads definition files.
type Compiler struct {
	fs afs.Service
}

// Option configures the Compiler.
type Option func(*Compiler)

// WithFS overrides the storage service used to read definitions and prompt files.
func WithFS(fs afs.Service) Option {
	return func(c *Compiler) {
		c.fs = fs
	}
}

// New creates a compiler backed by afs.
func New(opts ...Option) *Compiler {
	c := &Compiler{fs: afs.New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadFile reads and compiles the definition at location.
func (c *Compiler) LoadFile(ctx context.Context, location string) ([]domain.Workflow, error) {
	location = absolute(location)
	data, err := c.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition %s: %w", location, err)
	}
	parent, _ := url.Split(location, file.Scheme)

	workflows, err := c.Compile(ctx, data, DetectFormat(location), parent)
	if err != nil {
		return nil, err
	}
	for i := range workflows {
		workflows[i].Source = location
	}
	return workflows, nil
}

// Compile parses data in the given format. Relative file references resolve
// against baseURL; an empty baseURL means the working directory.
func (c *Compiler) Compile(ctx context.Context, data []byte, format Format, baseURL string) ([]domain.Workflow, error) {
	var (
		defs []dto.WorkflowDefinition
		err  error
	)
	switch format {
	case FormatNM:
		defs, err = ParseNM(string(data))
	case FormatYAML, FormatJSON:
		defs, err = decodeDocument(data)
	default:
		return nil, fmt.Errorf("unsupported definition format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("definition contains no workflows")
	}

	workflows := make([]domain.Workflow, 0, len(defs))
	for i, def := range defs {
		wf, err := c.build(ctx, def, format, baseURL)
		if err != nil {
			name := def.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("workflow %s: %w", name, err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

// decodeDocument reads YAML (and therefore JSON) into the definition DTOs.
func decodeDocument(data []byte) ([]dto.WorkflowDefinition, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse definition: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	if _, ok := raw["workflows"]; !ok {
		raw = map[string]any{"workflows": []any{raw}}
	}

	var doc dto.Document
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}
	return doc.Workflows, nil
}

func (c *Compiler) build(ctx context.Context, def dto.WorkflowDefinition, format Format, baseURL string) (domain.Workflow, error) {
	wf := domain.Workflow{
		Name:          strings.TrimSpace(def.Name),
		Model:         def.Model,
		MaxTraversals: def.MaximumTraversals,
		Entry:         def.Entry,
		Nodes:         make([]domain.Node, 0, len(def.Nodes)),
	}
	if wf.Name == "" {
		return wf, fmt.Errorf("workflow name is required")
	}
	if wf.Model == "" {
		wf.Model = domain.DefaultModel
	}
	if def.Temperature != nil {
		t := *def.Temperature
		wf.Temperature = &t
	}

	for i, nd := range def.Nodes {
		node, err := c.buildNode(ctx, i, nd, format, baseURL)
		if err != nil {
			return wf, err
		}
		if node.Prompt == "" {
			node.Prompt = defaultPrompt(node.ID == wf.Entry)
		}
		wf.Nodes = append(wf.Nodes, node)
	}
	return wf, nil
}

func (c *Compiler) buildNode(ctx context.Context, pos int, nd dto.NodeDefinition, format Format, baseURL string) (domain.Node, error) {
	kind, err := domain.ParseNodeKind(nd.Type)
	if err != nil {
		return domain.Node{}, fmt.Errorf("node %d: %w", pos, err)
	}

	node := domain.Node{
		ID:             pos,
		Kind:           kind,
		Prompt:         nd.Prompt,
		MaxIterations:  domain.DefaultMaxIterations,
		OnSuccess:      target(nd.OnSuccess),
		OnFailure:      target(nd.OnFailure),
		IterationDelay: time.Duration(nd.IterationDelayMS) * time.Millisecond,
	}
	if nd.ID != nil {
		node.ID = *nd.ID
	}
	if nd.MaxIterations != nil {
		node.MaxIterations = *nd.MaxIterations
	}

	refs := make([]domain.FileRef, 0, len(nd.Files))
	for _, f := range nd.Files {
		if strings.TrimSpace(f) == "" {
			continue
		}
		ref := domain.ParseFileRef(f)
		ref.Path = resolve(baseURL, ref.Path)
		refs = append(refs, ref)
	}

	promptFile := nd.PromptFile
	if format == FormatNM && promptFile == "" && len(refs) > 0 {
		// The first user file, or else the first file, carries the prompt.
		idx := 0
		for i, ref := range refs {
			if ref.Role == domain.RoleUser {
				idx = i
				break
			}
		}
		promptFile = refs[idx].Path
		refs = append(refs[:idx], refs[idx+1:]...)
	}

	if promptFile != "" {
		location := resolve(baseURL, promptFile)
		data, err := c.fs.DownloadWithURL(ctx, location)
		if err != nil {
			return node, fmt.Errorf("node %d: failed to read prompt file %s: %w", node.ID, promptFile, err)
		}
		node.Prompt = string(data)
		node.PromptFile = location
	}

	for _, ref := range refs {
		node.Files = append(node.Files, ref.String())
	}
	return node, nil
}

// defaultPrompt chains a prompt-less node: the entry receives the run input,
// every other node receives the previous output.
func defaultPrompt(entry bool) string {
	if entry {
		return "{{" + domain.VarInput + "}}"
	}
	return "{{" + domain.VarOutput + "}}"
}

// target maps an unset target to the terminal sentinel. Every other value is
// kept as written; graph.Load rejects the ones that name no node.
func target(v *int) domain.Target {
	if v == nil {
		return domain.End
	}
	return domain.Target(*v)
}

func resolve(baseURL, location string) string {
	if baseURL == "" || !url.IsRelative(location) {
		return absolute(location)
	}
	return url.Join(baseURL, location)
}

func absolute(location string) string {
	if strings.Contains(location, "://") || filepath.IsAbs(location) {
		return location
	}
	if abs, err := filepath.Abs(location); err == nil {
		return abs
	}
	return location
}
