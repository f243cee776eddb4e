package runtime

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

const (
	// ContainerdRuntimeName is the runtime tag selecting this adaptor.
	ContainerdRuntimeName = "containerd"

	// containerdNamespace scopes all orchestrator containers.
	containerdNamespace = "ankaios"

	// DefaultContainerdSocket is the default containerd socket.
	DefaultContainerdSocket = "/run/containerd/containerd.sock"

	// stopTimeout is the grace period between SIGTERM and SIGKILL.
	stopTimeout = 10 * time.Second
)

// ContainerdRuntime implements the adaptor contract against a
// containerd daemon.
type ContainerdRuntime struct {
	client       *containerd.Client
	pollInterval time.Duration
}

// NewContainerdRuntime connects to containerd. An empty socket path
// selects the default.
func NewContainerdRuntime(socketPath string, pollInterval time.Duration) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultContainerdSocket
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}
	return &ContainerdRuntime{client: client, pollInterval: pollInterval}, nil
}

// Close closes the containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Name implements Runtime.
func (r *ContainerdRuntime) Name() string {
	return ContainerdRuntimeName
}

// CreateWorkload implements Runtime.
func (r *ContainerdRuntime) CreateWorkload(ctx context.Context, spec api.AddedWorkload) (WorkloadID, StateChecker, error) {
	cfg, err := ParseWorkloadConfig(spec.RuntimeConfig)
	if err != nil {
		return "", nil, types.Fatalf("create", err)
	}

	ctx = namespaces.WithNamespace(ctx, containerdNamespace)

	image, err := r.client.Pull(ctx, cfg.Image, containerd.WithPullUnpack)
	if err != nil {
		return "", nil, types.Retriablef("create", fmt.Errorf("failed to pull image %s: %w", cfg.Image, err))
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(cfg.EnvList()),
	}
	if len(cfg.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(cfg.Command...))
	}
	if len(cfg.Mounts) > 0 {
		mounts := make([]specs.Mount, 0, len(cfg.Mounts))
		for _, m := range cfg.Mounts {
			options := []string{"bind"}
			if m.ReadOnly {
				options = append(options, "ro")
			}
			mounts = append(mounts, specs.Mount{
				Source:      m.Source,
				Destination: m.Target,
				Type:        "bind",
				Options:     options,
			})
		}
		opts = append(opts, oci.WithMounts(mounts))
	}

	containerID := spec.InstanceName.String()
	container, err := r.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(map[string]string{
			labelInstance: spec.InstanceName.String(),
			labelAgent:    spec.InstanceName.AgentName,
		}),
	)
	if err != nil {
		return "", nil, types.Retriablef("create", fmt.Errorf("failed to create container: %w", err))
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return "", nil, types.Retriablef("create", fmt.Errorf("failed to create task: %w", err))
	}
	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx, containerd.WithProcessKill)
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return "", nil, types.Retriablef("create", fmt.Errorf("failed to start task: %w", err))
	}

	checker := NewPollingChecker(func(ctx context.Context) (types.ExecutionState, error) {
		return r.state(ctx, WorkloadID(containerID))
	}, r.pollInterval)

	return WorkloadID(containerID), checker, nil
}

// StartChecker implements Runtime for adopted workloads.
func (r *ContainerdRuntime) StartChecker(ctx context.Context, id WorkloadID, spec api.AddedWorkload) (StateChecker, error) {
	nsCtx := namespaces.WithNamespace(ctx, containerdNamespace)
	if _, err := r.client.LoadContainer(nsCtx, string(id)); err != nil {
		return nil, types.Fatalf("start checker", err)
	}
	return NewPollingChecker(func(ctx context.Context) (types.ExecutionState, error) {
		return r.state(ctx, id)
	}, r.pollInterval), nil
}

// DeleteWorkload implements Runtime: graceful SIGTERM, SIGKILL after
// the grace period, then container and snapshot removal.
func (r *ContainerdRuntime) DeleteWorkload(ctx context.Context, id WorkloadID) error {
	ctx = namespaces.WithNamespace(ctx, containerdNamespace)

	container, err := r.client.LoadContainer(ctx, string(id))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return types.Retriablef("delete", fmt.Errorf("failed to load container %s: %w", id, err))
	}

	if task, err := container.Task(ctx, nil); err == nil {
		if err := r.stopTask(ctx, task); err != nil {
			return types.Retriablef("delete", err)
		}
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return types.Retriablef("delete", fmt.Errorf("failed to delete container: %w", err))
	}
	return nil
}

func (r *ContainerdRuntime) stopTask(ctx context.Context, task containerd.Task) error {
	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// GetReusableWorkloads implements Runtime.
func (r *ContainerdRuntime) GetReusableWorkloads(ctx context.Context, agentName string) ([]ReusableWorkload, error) {
	ctx = namespaces.WithNamespace(ctx, containerdNamespace)

	containers, err := r.client.Containers(ctx, fmt.Sprintf(`labels.%q==%q`, labelAgent, agentName))
	if err != nil {
		return nil, types.Retriablef("list", fmt.Errorf("failed to list containers: %w", err))
	}

	var found []ReusableWorkload
	for _, c := range containers {
		labels, err := c.Labels(ctx)
		if err != nil {
			continue
		}
		name, err := types.ParseInstanceName(labels[labelInstance])
		if err != nil {
			continue
		}
		state, err := r.state(ctx, WorkloadID(c.ID()))
		if err != nil || state.State != types.StateRunning {
			continue
		}
		found = append(found, ReusableWorkload{InstanceName: name, ID: WorkloadID(c.ID())})
	}
	return found, nil
}

// state maps the containerd task status onto an ExecutionState.
func (r *ContainerdRuntime) state(ctx context.Context, id WorkloadID) (types.ExecutionState, error) {
	ctx = namespaces.WithNamespace(ctx, containerdNamespace)

	container, err := r.client.LoadContainer(ctx, string(id))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return types.StateLost(), nil
		}
		return types.ExecutionState{}, fmt.Errorf("failed to load container %s: %w", id, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means the container exists but never started.
		return types.StateStarting("container created"), nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return types.ExecutionState{}, fmt.Errorf("failed to get task status: %w", err)
	}

	switch status.Status {
	case containerd.Running, containerd.Paused, containerd.Pausing:
		return types.StateRunningOK(), nil
	case containerd.Created:
		return types.StateStarting("task created"), nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return types.StateSucceededOK(), nil
		}
		return types.StateFailedExec(fmt.Sprintf("exit code %d", status.ExitStatus)), nil
	default:
		return types.StateStarting(string(status.Status)), nil
	}
}
