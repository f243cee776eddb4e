/*
Package types defines the core data structures shared by the server,
the agent and the CLI.

The root object is CompleteState with its three optional sub-trees:
the desired state (intent), the aggregated workload states (actual) and
the connected-agent map (liveness). All three are addressable by
dotted-path field masks, which also drive partial updates.

Identity of a running container is the WorkloadInstanceName triple
(workload name, agent name, config hash). A change of hash always means
delete-then-create; the hash is how an agent recognizes a
previously-created container as equivalent to a new desired spec.

ExecutionState is the two-level observation tag (state plus substate)
reported by agents and aggregated by the server into the three-level
WorkloadStatesMap.
*/
package types
