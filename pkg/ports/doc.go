/*
Package ports defines the driven ports (interfaces) for the neonflow engine.

These interfaces decouple the traversal core from external implementations, allowing
the engine to work with any model transport, run archive or event sink.

# Key Interfaces

  - Invoker: Sends a rendered prompt to the agent/tool backend and returns raw text.
  - RunStore: Archives finished runs for later inspection.
  - EventPublisher: Forwards transition events to an external bus.
*/
package ports
