package compiler

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/neonflow/internal/dto"
	"github.com/aretw0/neonflow/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Encode writes workflows in the given format.
func Encode(workflows []domain.Workflow, format Format) ([]byte, error) {
	switch format {
	case FormatNM:
		return []byte(EncodeNM(workflows)), nil
	case FormatJSON:
		out, err := json.MarshalIndent(toDocument(workflows), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode workflows: %w", err)
		}
		return append(out, '\n'), nil
	case FormatYAML:
		return EncodeYAML(workflows)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// EncodeYAML writes workflows as a YAML definition document.
func EncodeYAML(workflows []domain.Workflow) ([]byte, error) {
	out, err := yaml.Marshal(toDocument(workflows))
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflows: %w", err)
	}
	return out, nil
}

func toDocument(workflows []domain.Workflow) dto.Document {
	doc := dto.Document{Workflows: make([]dto.WorkflowDefinition, len(workflows))}
	for i, wf := range workflows {
		def := dto.WorkflowDefinition{
			Name:              wf.Name,
			Model:             wf.Model,
			Temperature:       wf.Temperature,
			MaximumTraversals: wf.MaxTraversals,
			Entry:             wf.Entry,
			Nodes:             make([]dto.NodeDefinition, len(wf.Nodes)),
		}
		for j, n := range wf.Nodes {
			id, maxIter := n.ID, n.MaxIterations
			onSuccess, onFailure := int(n.OnSuccess), int(n.OnFailure)
			nd := dto.NodeDefinition{
				ID:               &id,
				Type:             string(n.Kind),
				Files:            n.Files,
				MaxIterations:    &maxIter,
				IterationDelayMS: int(n.IterationDelay.Milliseconds()),
				OnSuccess:        &onSuccess,
				OnFailure:        &onFailure,
			}
			if n.PromptFile != "" {
				nd.PromptFile = n.PromptFile
			} else {
				nd.Prompt = n.Prompt
			}
			def.Nodes[j] = nd
		}
		doc.Workflows[i] = def
	}
	return doc
}
