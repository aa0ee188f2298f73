// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package action models the structure of a build pipeline as a tree of
// actions and resolves step addresses against it.
//
// An [Action] is one of three cases: a [Leaf] (an executable step with a
// name and parameters), a sequential [Group], or a parallel [Group]. A
// [Tree] is the ordered top-level sequence of actions for one build; its
// root behaves as an implicit sequential group.
//
// A [Path] addresses a leaf by the zero-based child index taken at each
// level of the tree. The text form joins indices with dots:
//
//	tree := action.NewTree(
//	    action.NewLeaf("checkout", map[string]string{"run": "git checkout"}, nil),
//	    action.NewParallel("test",
//	        action.NewLeaf("unit", map[string]string{"run": "go test ./..."}, nil),
//	        action.NewLeaf("lint", map[string]string{"run": "golangci-lint run"}, nil),
//	    ),
//	)
//	leaf, err := action.Resolve(tree, action.Path{1, 0}) // "unit"
//
// A Path is only meaningful relative to the Tree it was derived from.
// Group execution order (sequential or parallel) is recorded here but is
// the worker's concern; this package only describes structure.
//
// Every value in this package is immutable after construction. Accessors
// that return slices or maps return copies. [Resolve], [Walk] and
// [Leaves] are pure functions and are safe for concurrent use on the
// same tree.
package action
