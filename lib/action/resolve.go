// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import "fmt"

// Resolve returns the leaf addressed by path within tree.
//
// Descent starts at the implicit sequential group holding the tree's
// top-level actions. At each level the next index selects a child of
// the current group. Resolution succeeds only when the path is
// exhausted exactly at a leaf.
//
// Errors (as *PathError, matching with errors.Is):
//   - ErrInvalidPath: the path contains a negative index. Checked
//     before any traversal.
//   - ErrStepNotFound: an index is out of range, the path ends at a
//     group, or the path continues past a leaf. An empty tree yields
//     ErrStepNotFound for every path.
func Resolve(tree Tree, path Path) (Leaf, error) {
	if err := path.Validate(); err != nil {
		return Leaf{}, err
	}
	return descend(tree.root(), path, 0)
}

func descend(node Action, path Path, depth int) (Leaf, error) {
	remaining := path[depth:]

	switch current := node.(type) {
	case Leaf:
		if len(remaining) == 0 {
			return current, nil
		}
		return Leaf{}, notFound(path, depth, fmt.Sprintf("address continues past step %q", current.name))

	case Group:
		if len(remaining) == 0 {
			return Leaf{}, notFound(path, depth, "address ends at a group, not a step")
		}
		index := remaining[0]
		if index >= len(current.children) {
			return Leaf{}, notFound(path, depth, fmt.Sprintf("index %d out of range (group has %d children)", index, len(current.children)))
		}
		return descend(current.children[index], path, depth+1)

	default:
		return Leaf{}, notFound(path, depth, fmt.Sprintf("unsupported node %T", node))
	}
}

func notFound(path Path, depth int, reason string) *PathError {
	return &PathError{Path: path.Clone(), Depth: depth, Reason: reason, Err: ErrStepNotFound}
}
