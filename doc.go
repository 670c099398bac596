/*
Package neonflow runs multi-step AI agent workflows described as a directed graph
of Agent and Validator nodes.

Each node renders a prompt template from the run's variables, hands it to an
Invoker (the model backend) and routes to its on_success or on_failure target.
Validator nodes judge the model output as JSON to decide the outcome. Every node
carries an iteration budget, so a run always terminates.

# Concept

The traversal core knows nothing about transports, storage or user interfaces.
Those live behind the interfaces in pkg/ports and are provided by the adapters in
pkg/adapters: an OpenAI-compatible invoker, run archives (memory, file, redis), an
AMQP event publisher, and HTTP and MCP servers.

# Key Features

  - Guaranteed termination: a run takes at most the sum of its nodes' max_iterations steps.
  - Explicit routing: -1 ends the run, any other value names a node (0 included).
  - Tolerant validation: JSON is found in raw model output, with or without a "valid" field.
  - Isolated runs: one Engine can serve many concurrent runs over the same workflow.

# Usage

	wfs, err := neonflow.Load(ctx, "workflows.yaml")
	if err != nil {
		log.Fatal(err)
	}

	invoker, err := openai.New(openai.DefaultConfig())
	if err != nil {
		log.Fatal(err)
	}

	eng := neonflow.New(invoker)
	res, err := eng.Run(ctx, wfs[0], "Summarise the release notes")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.FinalOutput)
*/
package neonflow
