package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/log"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

const (
	// PodmanRuntimeName is the runtime tag selecting this adaptor.
	PodmanRuntimeName = "podman"

	// Container labels carrying the orchestrator identity. The
	// instance label lets a restarted agent recognize its own
	// containers; the agent label scopes the reusable-workload listing.
	labelInstance = "ankaios.instance"
	labelAgent    = "ankaios.agent"
)

// PodmanRuntime drives workloads through the podman CLI. Podman's
// socketless fork-exec model keeps the adaptor free of a daemon
// dependency; every operation is one short-lived process.
type PodmanRuntime struct {
	binary       string
	pollInterval time.Duration
}

// NewPodmanRuntime returns an adaptor invoking the given podman binary.
// Empty binary selects "podman" from PATH.
func NewPodmanRuntime(binary string, pollInterval time.Duration) *PodmanRuntime {
	if binary == "" {
		binary = "podman"
	}
	return &PodmanRuntime{binary: binary, pollInterval: pollInterval}
}

// Name implements Runtime.
func (r *PodmanRuntime) Name() string {
	return PodmanRuntimeName
}

// CreateWorkload implements Runtime. The container is named after the
// instance name, so a recreate under a new config hash never collides
// with the old container.
func (r *PodmanRuntime) CreateWorkload(ctx context.Context, spec api.AddedWorkload) (WorkloadID, StateChecker, error) {
	cfg, err := ParseWorkloadConfig(spec.RuntimeConfig)
	if err != nil {
		return "", nil, types.Fatalf("create", err)
	}

	args := []string{
		"run", "-d",
		"--name", spec.InstanceName.String(),
		"--label", fmt.Sprintf("%s=%s", labelInstance, spec.InstanceName.String()),
		"--label", fmt.Sprintf("%s=%s", labelAgent, spec.InstanceName.AgentName),
	}
	for _, env := range cfg.EnvList() {
		args = append(args, "-e", env)
	}
	for _, port := range cfg.Ports {
		mapping := fmt.Sprintf("%d:%d", port.HostPort, port.ContainerPort)
		if port.Protocol != "" {
			mapping += "/" + strings.ToLower(port.Protocol)
		}
		args = append(args, "-p", mapping)
	}
	for _, mount := range cfg.Mounts {
		opt := fmt.Sprintf("%s:%s", mount.Source, mount.Target)
		if mount.ReadOnly {
			opt += ":ro"
		}
		args = append(args, "-v", opt)
	}
	args = append(args, cfg.Image)
	args = append(args, cfg.Command...)

	out, err := r.exec(ctx, args...)
	if err != nil {
		// Pull failures, name clashes from a dying old container and
		// transient storage errors all clear up on a later attempt.
		return "", nil, types.Retriablef("create", err)
	}
	id := WorkloadID(strings.TrimSpace(string(out)))

	checker := NewPollingChecker(func(ctx context.Context) (types.ExecutionState, error) {
		return r.state(ctx, id)
	}, r.pollInterval)

	podmanLogger := log.WithComponent("podman")
	podmanLogger.Debug().
		Str("workload", spec.InstanceName.WorkloadName).
		Str("container", string(id)).
		Msg("container started")

	return id, checker, nil
}

// StartChecker implements Runtime for adopted workloads.
func (r *PodmanRuntime) StartChecker(ctx context.Context, id WorkloadID, spec api.AddedWorkload) (StateChecker, error) {
	if _, err := r.state(ctx, id); err != nil {
		return nil, types.Fatalf("start checker", err)
	}
	return NewPollingChecker(func(ctx context.Context) (types.ExecutionState, error) {
		return r.state(ctx, id)
	}, r.pollInterval), nil
}

// DeleteWorkload implements Runtime. Removing an already-gone
// container is not an error.
func (r *PodmanRuntime) DeleteWorkload(ctx context.Context, id WorkloadID) error {
	_, err := r.exec(ctx, "rm", "-f", "--ignore", string(id))
	if err != nil {
		return types.Retriablef("delete", err)
	}
	return nil
}

// GetReusableWorkloads implements Runtime: running containers labelled
// for this agent whose names parse as instance names.
func (r *PodmanRuntime) GetReusableWorkloads(ctx context.Context, agentName string) ([]ReusableWorkload, error) {
	out, err := r.exec(ctx,
		"ps", "--format", "json",
		"--filter", fmt.Sprintf("label=%s=%s", labelAgent, agentName),
	)
	if err != nil {
		return nil, types.Retriablef("list", err)
	}

	var rows []struct {
		Id     string            `json:"Id"`
		Labels map[string]string `json:"Labels"`
	}
	if err := json.Unmarshal(out, &rows); err != nil {
		return nil, types.Fatalf("list", fmt.Errorf("parsing podman ps output: %w", err))
	}

	var found []ReusableWorkload
	for _, row := range rows {
		name, err := types.ParseInstanceName(row.Labels[labelInstance])
		if err != nil {
			continue
		}
		found = append(found, ReusableWorkload{InstanceName: name, ID: WorkloadID(row.Id)})
	}
	return found, nil
}

// state probes one container through podman inspect.
func (r *PodmanRuntime) state(ctx context.Context, id WorkloadID) (types.ExecutionState, error) {
	out, err := r.exec(ctx, "inspect", "--format", "{{.State.Status}} {{.State.ExitCode}}", string(id))
	if err != nil {
		// Inspect on a removed container fails; the workload is gone.
		return types.StateLost(), nil
	}

	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) != 2 {
		return types.ExecutionState{}, fmt.Errorf("unexpected inspect output %q", out)
	}
	status, exitCode := fields[0], fields[1]

	switch status {
	case "running", "paused":
		return types.StateRunningOK(), nil
	case "created", "configured", "initialized":
		return types.StateStarting("container created"), nil
	case "stopping":
		return types.StateWaitingToStop(), nil
	case "exited", "stopped":
		if exitCode == "0" {
			return types.StateSucceededOK(), nil
		}
		return types.StateFailedExec(fmt.Sprintf("exit code %s", exitCode)), nil
	default:
		return types.ExecutionState{}, fmt.Errorf("unknown container status %q", status)
	}
}

// exec runs one podman invocation, returning stdout. Stderr is folded
// into the error.
func (r *PodmanRuntime) exec(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("podman %s: %s", args[0], msg)
	}
	return stdout.Bytes(), nil
}
