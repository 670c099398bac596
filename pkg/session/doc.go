/*
Package session implements the command surface shared by the CLI chat, the HTTP
server and the MCP server.

A Manager owns the loaded workflows, runs them through a neonflow.Engine and
archives every finished run. Per-caller choices (active workflow, start node,
run history) live in a Session object keyed by ID, never in globals. Commands on
the same session are serialized; different sessions run independently.
*/
package session
