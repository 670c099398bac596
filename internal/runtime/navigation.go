package runtime

import "github.com/aretw0/neonflow/pkg/domain"

// Resolve maps a node and its outcome to the next routing target.
// It is a pure function of its arguments: targets were checked when the graph was
// loaded and loop prevention belongs to the engine, not to routing.
func Resolve(node domain.Node, outcome domain.Outcome) domain.Target {
	if outcome == domain.Success {
		return node.OnSuccess
	}
	return node.OnFailure
}

// OutcomeFor derives the routing outcome of one execution.
// An invocation error is always a Failure. Agents otherwise succeed; Validators
// follow the verdict.
func OutcomeFor(node domain.Node, invokeErr error, verdict *domain.ValidationResult) domain.Outcome {
	if invokeErr != nil {
		return domain.Failure
	}
	if node.IsValidator() {
		if verdict != nil && verdict.Valid {
			return domain.Success
		}
		return domain.Failure
	}
	return domain.Success
}
