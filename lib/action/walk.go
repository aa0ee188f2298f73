// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import "errors"

// SkipChildren can be returned by a WalkFunc visiting a group to skip
// that group's children without stopping the walk.
var SkipChildren = errors.New("skip children")

// WalkFunc is called for each node visited by Walk. The path is a fresh
// copy owned by the callee.
type WalkFunc func(path Path, node Action) error

// Walk visits every node of the tree depth-first, parents before
// children, children in index order. The implicit root group is not
// visited. A non-nil error other than SkipChildren stops the walk and
// is returned.
func Walk(tree Tree, fn WalkFunc) error {
	for index, node := range tree.actions {
		if err := walk(Path{index}, node, fn); err != nil {
			return err
		}
	}
	return nil
}

func walk(path Path, node Action, fn WalkFunc) error {
	err := fn(path.Clone(), node)
	if errors.Is(err, SkipChildren) {
		return nil
	}
	if err != nil {
		return err
	}

	group, ok := node.(Group)
	if !ok {
		return nil
	}
	for index, child := range group.children {
		if err := walk(path.Child(index), child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Leaves returns the address of every leaf in depth-first order. Each
// returned path resolves to its leaf with Resolve.
func Leaves(tree Tree) []Path {
	var paths []Path
	Walk(tree, func(path Path, node Action) error {
		if node.Kind() == KindLeaf {
			paths = append(paths, path)
		}
		return nil
	})
	return paths
}
