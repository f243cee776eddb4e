package types

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field masks are dotted paths into the CompleteState tree, e.g.
// "desiredState.workloads.nginx.agent". Masks select subtrees for
// filtered reads and scope subtree overwrites for partial updates.
// Paths referencing non-existent branches are no-ops, not errors.

// FilterComplete returns a copy of cs containing only the subtrees
// selected by masks. An empty mask list returns the full state.
func FilterComplete(cs *CompleteState, masks []string) (*CompleteState, error) {
	if len(masks) == 0 {
		return cs, nil
	}
	src, err := toTree(cs)
	if err != nil {
		return nil, err
	}
	dst := map[string]any{}
	for _, mask := range masks {
		copyPath(src, dst, splitMask(mask))
	}
	return fromTree(dst)
}

// ApplyUpdate overlays newState onto current along the mask paths: the
// subtree at each path is overwritten with the value from newState, and
// a path absent from newState deletes the subtree in the result. An
// empty mask list replaces the whole desired state.
func ApplyUpdate(current *CompleteState, newState *CompleteState, masks []string) (*CompleteState, error) {
	if len(masks) == 0 {
		masks = []string{"desiredState"}
	}
	dst, err := toTree(current)
	if err != nil {
		return nil, err
	}
	src, err := toTree(newState)
	if err != nil {
		return nil, err
	}
	for _, mask := range masks {
		path := splitMask(mask)
		if value, ok := lookupPath(src, path); ok {
			if err := setPath(dst, path, value); err != nil {
				return nil, err
			}
		} else {
			deletePath(dst, path)
		}
	}
	return fromTree(dst)
}

func splitMask(mask string) []string {
	return strings.Split(strings.Trim(mask, "."), ".")
}

// toTree converts the typed state into a generic map tree by YAML
// round-trip, so mask operations see the same field names the manifest
// format uses.
func toTree(cs *CompleteState) (map[string]any, error) {
	if cs == nil {
		cs = &CompleteState{}
	}
	raw, err := yaml.Marshal(cs)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decoding state tree: %w", err)
	}
	return tree, nil
}

func fromTree(tree map[string]any) (*CompleteState, error) {
	raw, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encoding state tree: %w", err)
	}
	out := &CompleteState{}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decoding state: %w", err)
	}
	return out, nil
}

func lookupPath(tree map[string]any, path []string) (any, bool) {
	var node any = tree
	for _, seg := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// setPath writes value at path, creating intermediate maps. Fails only
// when an intermediate node exists but is not a map.
func setPath(tree map[string]any, path []string, value any) error {
	node := tree
	for _, seg := range path[:len(path)-1] {
		next, ok := node[seg]
		if !ok || next == nil {
			child := map[string]any{}
			node[seg] = child
			node = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("mask path %q crosses a scalar field", strings.Join(path, "."))
		}
		node = child
	}
	node[path[len(path)-1]] = value
	return nil
}

func deletePath(tree map[string]any, path []string) {
	node := tree
	for _, seg := range path[:len(path)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			return
		}
		node = child
	}
	delete(node, path[len(path)-1])
}

// copyPath copies the subtree at path from src into dst, materializing
// the intermediate levels. Missing source branches are skipped.
func copyPath(src, dst map[string]any, path []string) {
	value, ok := lookupPath(src, path)
	if !ok {
		return
	}
	node := dst
	for _, seg := range path[:len(path)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[seg] = child
		}
		node = child
	}
	// A broader mask may already have copied this level; the deeper
	// copy must not clobber siblings that the wider one brought in.
	if existing, ok := node[path[len(path)-1]].(map[string]any); ok {
		if incoming, ok := value.(map[string]any); ok {
			for k, v := range incoming {
				existing[k] = v
			}
			return
		}
	}
	node[path[len(path)-1]] = value
}
