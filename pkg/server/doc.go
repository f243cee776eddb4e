/*
Package server implements the reconciliation engine: the single
authoritative holder of the desired state and the aggregation point for
all workload state observations.

One task owns everything. Client requests, agent connects and
disconnects and inbound state observations all funnel through its
command channel, so desired-state mutations become visible in a total
order consistent with acknowledgment order. An UpdateState is cloned,
masked, validated and diffed into per-agent added/deleted sets before
it is committed; a validation failure rejects the whole request with
zero commands emitted.

The hub carries the per-agent outbound queues. Queues are bounded; a
full queue makes the reconciliation task yield until the agent's send
task catches up.
*/
package server
