/*
Package runtime defines the adaptor contract between the agent's
control loops and a concrete container backend, plus the two bundled
adaptors: podman (CLI-driven, socketless) and containerd (daemon
client).

An adaptor creates and deletes workloads, lists reusable workloads for
adoption after an agent restart, and hands out one StateChecker per
running workload. The checker is the only source of ExecutionState
observations; the control loop cancels it before the workload handle is
released.

Adaptors classify failures as retriable or fatal via types.RuntimeError;
the retry policy itself lives in the control loop, not here. New
backends register in a Registry keyed by the workload's runtime tag.
*/
package runtime
