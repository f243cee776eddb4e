// Package metrics defines the prometheus instrumentation of the server
// and the agent.
package metrics
