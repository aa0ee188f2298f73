// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"fmt"
	"maps"
	"slices"
)

// Kind identifies which case of the Action sum type a node is. The
// zero Kind is not a valid kind.
type Kind int

const (
	// KindLeaf is a single executable step.
	KindLeaf Kind = iota + 1

	// KindSequential is a group whose children run one after another.
	KindSequential

	// KindParallel is a group whose children may run concurrently.
	KindParallel
)

// String returns "leaf", "sequential", or "parallel".
func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindSequential:
		return "sequential"
	case KindParallel:
		return "parallel"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "leaf":
		return KindLeaf, nil
	case "sequential":
		return KindSequential, nil
	case "parallel":
		return KindParallel, nil
	default:
		return 0, fmt.Errorf("unknown action kind %q", name)
	}
}

// Action is a node of a pipeline tree. The only implementations are
// Leaf and Group; the unexported method closes the set.
type Action interface {
	Kind() Kind
	action()
}

// ParamRun is the leaf parameter holding the shell command a worker
// executes for the step.
const ParamRun = "run"

// Leaf is a single executable step. The zero value is not a valid step;
// use NewLeaf.
type Leaf struct {
	name   string
	params map[string]string
	env    map[string]string
}

// NewLeaf returns a leaf step. The params and env maps are copied, so
// later changes by the caller do not reach the step.
func NewLeaf(name string, params, env map[string]string) Leaf {
	return Leaf{
		name:   name,
		params: maps.Clone(params),
		env:    maps.Clone(env),
	}
}

func (Leaf) Kind() Kind { return KindLeaf }
func (Leaf) action()    {}

// Name returns the step name.
func (l Leaf) Name() string { return l.name }

// Param returns a single step parameter.
func (l Leaf) Param(key string) (string, bool) {
	value, ok := l.params[key]
	return value, ok
}

// Params returns a copy of the step parameters.
func (l Leaf) Params() map[string]string { return maps.Clone(l.params) }

// Env returns a copy of the environment variables set for this step.
func (l Leaf) Env() map[string]string { return maps.Clone(l.env) }

// Command returns the shell command for the step, or "" when the step
// has no run parameter.
func (l Leaf) Command() string { return l.params[ParamRun] }

// Equal reports whether two leaves have the same name, parameters, and
// environment. A nil map and an empty map compare equal.
func (l Leaf) Equal(other Leaf) bool {
	return l.name == other.name &&
		maps.Equal(l.params, other.params) &&
		maps.Equal(l.env, other.env)
}

// String returns the step name, for log and error messages.
func (l Leaf) String() string { return l.name }

// Group is an ordered container of child actions. Its Kind is either
// KindSequential or KindParallel; the zero Group is an empty
// sequential group.
type Group struct {
	name     string
	mode     Kind
	children []Action
}

// NewSequential returns a group whose children run in order. The name
// is an optional label for logs.
func NewSequential(name string, children ...Action) Group {
	return Group{name: name, mode: KindSequential, children: slices.Clone(children)}
}

// NewParallel returns a group whose children may run concurrently.
func NewParallel(name string, children ...Action) Group {
	return Group{name: name, mode: KindParallel, children: slices.Clone(children)}
}

func (g Group) Kind() Kind {
	if g.mode == KindParallel {
		return KindParallel
	}
	return KindSequential
}

func (Group) action() {}

// Name returns the group label, which may be empty.
func (g Group) Name() string { return g.name }

// Len returns the number of direct children.
func (g Group) Len() int { return len(g.children) }

// Child returns the child at index, or false if index is out of range.
func (g Group) Child(index int) (Action, bool) {
	if index < 0 || index >= len(g.children) {
		return nil, false
	}
	return g.children[index], true
}

// Children returns a copy of the direct children. The children
// themselves are immutable values, so a shallow copy is sufficient.
func (g Group) Children() []Action { return slices.Clone(g.children) }

// Tree is the ordered top-level sequence of actions for one build.
type Tree struct {
	actions []Action
}

// NewTree returns a tree with the given top-level actions.
func NewTree(actions ...Action) Tree {
	return Tree{actions: slices.Clone(actions)}
}

// Len returns the number of top-level actions.
func (t Tree) Len() int { return len(t.actions) }

// Actions returns a copy of the top-level actions.
func (t Tree) Actions() []Action { return slices.Clone(t.actions) }

// root wraps the top-level actions in the implicit sequential group
// that Resolve and Walk descend from. The slice is shared, not copied:
// root is only used for read-only traversal inside this package.
func (t Tree) root() Group {
	return Group{mode: KindSequential, children: t.actions}
}
