/*
Package agent implements the node-local process that realizes desired
workloads through a runtime adaptor and reports their execution states
back to the server.

One Manager task serializes everything: messages from the server,
observations from the agent's own control loops, and the resulting
writes to the local state store. Each workload gets a ControlLoop
goroutine fed through a bounded FIFO command channel; the loop owns the
workload from creation to deletion, including dependency gating, the
create retry budget and the restart policy.

The Connection owns the server stream with automatic reconnect. After
every reconnect the server re-seeds the agent with a ServerHello, and
the RuntimeManager adopts containers that are still running by matching
their instance names instead of recreating them.
*/
package agent
