/*
Package domain contains the core domain models for the neonflow engine.

It defines the workflow graph entities, the per-run traversal state, the routing
outcomes and the lifecycle events emitted while a run advances. This package is kept
pure and free of external dependencies like I/O, transport or persistence, following
Hexagonal Architecture principles.

# Key Entities

  - Node: A unit of execution (Agent or Validator) with two routing edges and an iteration budget.
  - Workflow: A named, ordered set of nodes plus run-level settings (model, temperature, caps).
  - TraversalState: The private, per-run snapshot (current node, visit counts, history).
  - Variables: The template variable store, seeded with nminput and nmoutput.
  - RunResult: The terminal outcome of a run, archived as a RunRecord.
*/
package domain
