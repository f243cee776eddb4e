package server

import (
	"regexp"

	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// Workload and agent names become path components and parts of
// container names; dots are reserved as the instance-name separator.
var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,63}$`)

// validateState checks a candidate desired state before it is
// committed. Rejection is atomic: the caller discards the candidate
// and emits no commands.
func validateState(state *types.State, knownRuntimes map[string]bool) error {
	if state.APIVersion != types.CurrentAPIVersion {
		return types.Validationf("unsupported apiVersion %q, expected %q", state.APIVersion, types.CurrentAPIVersion)
	}

	for name, wl := range state.Workloads {
		if !nameRe.MatchString(name) {
			return types.Validationf("workload name %q is not a valid name", name)
		}
		if wl.Agent == "" {
			return types.Validationf("workload %q misses the agent field", name)
		}
		if !nameRe.MatchString(wl.Agent) {
			return types.Validationf("workload %q references invalid agent name %q", name, wl.Agent)
		}
		if wl.Runtime == "" {
			return types.Validationf("workload %q misses the runtime field", name)
		}
		if len(knownRuntimes) > 0 && !knownRuntimes[wl.Runtime] {
			return types.Validationf("workload %q references unknown runtime %q", name, wl.Runtime)
		}
		if !wl.RestartPolicy.Valid() {
			return types.Validationf("workload %q has invalid restart policy %q", name, wl.RestartPolicy)
		}
		for dep, cond := range wl.Dependencies {
			if !nameRe.MatchString(dep) {
				return types.Validationf("workload %q declares invalid dependency name %q", name, dep)
			}
			if !cond.Valid() {
				return types.Validationf("workload %q dependency %q has invalid condition %q", name, dep, cond)
			}
		}
	}

	if cycle := findDependencyCycle(state.Workloads); cycle != "" {
		return types.Validationf("dependency cycle involving workload %q", cycle)
	}
	return nil
}

// findDependencyCycle runs DFS colouring over the dependency graph and
// returns a workload on a cycle, or "". Dependencies on workloads
// absent from the desired state are legal (they hold the dependent in
// NotScheduled) and cannot close a cycle.
func findDependencyCycle(workloads map[string]types.Workload) string {
	const (
		white = iota
		grey
		black
	)
	colour := make(map[string]int, len(workloads))

	var visit func(name string) string
	visit = func(name string) string {
		colour[name] = grey
		for dep := range workloads[name].Dependencies {
			if _, exists := workloads[dep]; !exists {
				continue
			}
			switch colour[dep] {
			case grey:
				return dep
			case white:
				if hit := visit(dep); hit != "" {
					return hit
				}
			}
		}
		colour[name] = black
		return ""
	}

	for name := range workloads {
		if colour[name] == white {
			if hit := visit(name); hit != "" {
				return hit
			}
		}
	}
	return ""
}
