package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// WorkloadInstanceName identifies one concrete realization of a
// workload: the triple (workload name, agent name, config hash). Two
// instance names are equal exactly when the runtime artifacts they
// describe are interchangeable; a differing hash forces a
// delete-then-create, never an in-place mutation.
type WorkloadInstanceName struct {
	WorkloadName string `yaml:"workloadName" json:"workloadName" cbor:"1,keyasint"`
	AgentName    string `yaml:"agentName" json:"agentName" cbor:"2,keyasint"`
	ID           string `yaml:"id" json:"id" cbor:"3,keyasint"`
}

// instanceIDLen is the number of hex characters kept from the config
// hash. 32 chars of sha256 keeps collisions out of reach while staying
// usable as a container-name suffix.
const instanceIDLen = 32

// NewInstanceName computes the instance name for a desired workload.
// The ID is a hash over the workload identity and the normalized
// runtime configuration, so any change that requires a new container
// yields a new instance name. The agent is not part of the hash: a
// workload moved across agents keeps its ID, the triple still differs.
func NewInstanceName(workloadName string, workload Workload) WorkloadInstanceName {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", workloadName, workload.Runtime, normalizeConfig(workload.RuntimeConfig))
	return WorkloadInstanceName{
		WorkloadName: workloadName,
		AgentName:    workload.Agent,
		ID:           hex.EncodeToString(h.Sum(nil))[:instanceIDLen],
	}
}

// normalizeConfig strips insignificant whitespace so that reformatting
// a runtimeConfig does not force a recreate.
func normalizeConfig(cfg string) string {
	lines := strings.Split(cfg, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}

// String renders the canonical "name.id.agent" form used in container
// names and log output.
func (n WorkloadInstanceName) String() string {
	return fmt.Sprintf("%s.%s.%s", n.WorkloadName, n.ID, n.AgentName)
}

// ParseInstanceName parses the canonical string form. Workload and
// agent names must not contain dots; the ID is fixed-length hex.
func ParseInstanceName(s string) (WorkloadInstanceName, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 || parts[0] == "" || len(parts[1]) != instanceIDLen || parts[2] == "" {
		return WorkloadInstanceName{}, fmt.Errorf("malformed workload instance name %q", s)
	}
	return WorkloadInstanceName{WorkloadName: parts[0], ID: parts[1], AgentName: parts[2]}, nil
}
