/*
Package observability turns engine lifecycle events into metrics, logs, traces
and published events.

Each helper returns a domain.LifecycleHooks value; combine them with
domain.ChainHooks and pass the result to the engine.
*/
package observability
