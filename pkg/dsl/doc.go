/*
Package dsl provides a fluent builder for constructing neonflow workflows in Go.

It is an alternative to YAML or .nm definition files, useful for dynamic
workflow generation and for tests.

Example usage:

	b := dsl.New("review").Temperature(0.2)

	b.Agent(0).
		Prompt("Draft an answer to {{nminput}}").
		OnSuccess(1)

	b.Validator(1).
		Prompt(`Reply {"valid": true} if {{nmoutput}} is correct`).
		MaxIterations(2).
		OnFailure(0)

	g, err := b.Build()
	// ... pass g to neonflow.Engine.RunGraph
*/
package dsl
