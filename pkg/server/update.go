package server

import (
	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// delta is the result of diffing two desired states: the per-agent
// command subsets plus the flat instance-name lists reported back to
// the requesting client.
type delta struct {
	perAgent map[string]*api.UpdateWorkload
	added    []string
	deleted  []string
}

func (d *delta) empty() bool {
	return len(d.added) == 0 && len(d.deleted) == 0
}

func (d *delta) forAgent(agent string) *api.UpdateWorkload {
	cmd, ok := d.perAgent[agent]
	if !ok {
		cmd = &api.UpdateWorkload{}
		d.perAgent[agent] = cmd
	}
	return cmd
}

// computeDelta diffs old against next by instance name. A changed hash
// or a changed agent shows up as a delete on the old owner and an add
// on the new one; the two proceed independently unless an explicit
// dependency orders them.
func computeDelta(old, next *types.State) *delta {
	d := &delta{perAgent: make(map[string]*api.UpdateWorkload)}

	oldInstances := make(map[string]types.WorkloadInstanceName, len(old.Workloads))
	for name, wl := range old.Workloads {
		oldInstances[name] = types.NewInstanceName(name, wl)
	}

	for name, wl := range next.Workloads {
		instance := types.NewInstanceName(name, wl)
		if prev, existed := oldInstances[name]; existed {
			if prev == instance {
				continue
			}
			d.forAgent(prev.AgentName).Deleted = append(d.forAgent(prev.AgentName).Deleted, api.DeletedWorkload{InstanceName: prev})
			d.deleted = append(d.deleted, prev.String())
		}
		d.forAgent(instance.AgentName).Added = append(d.forAgent(instance.AgentName).Added, api.AddedFromSpec(name, wl))
		d.added = append(d.added, instance.String())
	}

	for name, prev := range oldInstances {
		if _, stillThere := next.Workloads[name]; stillThere {
			continue
		}
		d.forAgent(prev.AgentName).Deleted = append(d.forAgent(prev.AgentName).Deleted, api.DeletedWorkload{InstanceName: prev})
		d.deleted = append(d.deleted, prev.String())
	}

	return d
}

// applyUpdate runs the UpdateState algorithm against the current
// desired state: clone, apply the masked update, validate. It returns
// the validated candidate without committing it.
func applyUpdate(current *types.State, req *api.UpdateStateRequest, knownRuntimes map[string]bool) (*types.State, error) {
	masks := desiredOnlyMasks(req.UpdateMask)
	if len(req.UpdateMask) > 0 && len(masks) == 0 {
		// Every mask pointed outside the desired state: a no-op, not
		// an error.
		return current.Clone(), nil
	}

	merged, err := types.ApplyUpdate(
		&types.CompleteState{DesiredState: current.Clone()},
		&req.NewState,
		masks,
	)
	if err != nil {
		return nil, types.Validationf("%v", err)
	}

	candidate := merged.DesiredState
	if candidate == nil {
		candidate = &types.State{APIVersion: types.CurrentAPIVersion}
	}
	if err := validateState(candidate, knownRuntimes); err != nil {
		return nil, err
	}
	return candidate, nil
}

// desiredOnlyMasks keeps only mask paths under desiredState. Update
// requests cannot write the actual-state or agent sub-trees.
func desiredOnlyMasks(masks []string) []string {
	if len(masks) == 0 {
		return nil
	}
	out := make([]string, 0, len(masks))
	for _, m := range masks {
		if m == "desiredState" || len(m) > len("desiredState.") && m[:len("desiredState.")] == "desiredState." {
			out = append(out, m)
		}
	}
	return out
}
