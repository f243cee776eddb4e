package controlinterface

import (
	"strings"

	"github.com/eclipse-ankaios/ankaios-go/pkg/types"
)

// Authorizer evaluates one workload's allow/deny rule set. A request
// is approved when at least one allow rule covers it and no deny rule
// does. A workload without rules gets nothing: default closed.
type Authorizer struct {
	access *types.ControlInterfaceAccess
}

// NewAuthorizer builds the authorizer for one workload.
func NewAuthorizer(access *types.ControlInterfaceAccess) *Authorizer {
	return &Authorizer{access: access}
}

// Allows decides one request, given its operation kind and the state
// paths it targets. A request without masks targets the whole state
// and therefore needs a rule without mask restrictions.
func (a *Authorizer) Allows(op types.AccessOperation, masks []string) bool {
	if a.access == nil {
		return false
	}
	for _, rule := range a.access.DenyRules {
		if ruleMatches(rule, op, masks) {
			return false
		}
	}
	for _, rule := range a.access.AllowRules {
		if ruleCoversAll(rule, op, masks) {
			return true
		}
	}
	return false
}

// ruleMatches reports whether the rule touches any of the request
// masks: the overlap used for deny rules.
func ruleMatches(rule types.AccessRule, op types.AccessOperation, masks []string) bool {
	if !rule.Operation.Covers(op) {
		return false
	}
	if len(rule.FilterMasks) == 0 {
		return true
	}
	if len(masks) == 0 {
		// A mask-less request touches everything, including whatever
		// the deny rule names.
		return true
	}
	for _, ruleMask := range rule.FilterMasks {
		for _, reqMask := range masks {
			if masksOverlap(ruleMask, reqMask) {
				return true
			}
		}
	}
	return false
}

// ruleCoversAll reports whether the rule alone authorizes every mask of
// the request: the containment used for allow rules.
func ruleCoversAll(rule types.AccessRule, op types.AccessOperation, masks []string) bool {
	if !rule.Operation.Covers(op) {
		return false
	}
	if len(rule.FilterMasks) == 0 {
		return true
	}
	if len(masks) == 0 {
		return false
	}
	for _, reqMask := range masks {
		covered := false
		for _, ruleMask := range rule.FilterMasks {
			if maskCovers(ruleMask, reqMask) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

// maskCovers reports whether ruleMask is a (wildcard-aware) prefix of
// reqMask: the rule grants a subtree, the request must stay inside it.
func maskCovers(ruleMask, reqMask string) bool {
	ruleSegs := strings.Split(ruleMask, ".")
	reqSegs := strings.Split(reqMask, ".")
	if len(reqSegs) < len(ruleSegs) {
		return false
	}
	return segmentsMatch(ruleSegs, reqSegs[:len(ruleSegs)])
}

// masksOverlap reports whether the two masks name overlapping
// subtrees, in either direction.
func masksOverlap(a, b string) bool {
	aSegs := strings.Split(a, ".")
	bSegs := strings.Split(b, ".")
	n := len(aSegs)
	if len(bSegs) < n {
		n = len(bSegs)
	}
	return segmentsMatch(aSegs[:n], bSegs[:n])
}

func segmentsMatch(pattern, path []string) bool {
	for i := range pattern {
		if pattern[i] == "*" || path[i] == "*" {
			continue
		}
		if pattern[i] != path[i] {
			return false
		}
	}
	return true
}
