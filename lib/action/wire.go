// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"fmt"

	"github.com/bureau-foundation/bureau-ci/lib/codec"
)

// wireAction is the CBOR form of one node. Kind discriminates the
// union; Params and Env are set only for leaves, Children only for
// groups.
type wireAction struct {
	Kind     string            `cbor:"kind"`
	Name     string            `cbor:"name,omitempty"`
	Params   map[string]string `cbor:"params,omitempty"`
	Env      map[string]string `cbor:"env,omitempty"`
	Children []wireAction      `cbor:"children,omitempty"`
}

// MarshalCBOR encodes the tree as an array of tagged nodes.
func (t Tree) MarshalCBOR() ([]byte, error) {
	nodes := make([]wireAction, 0, len(t.actions))
	for index, node := range t.actions {
		encoded, err := toWire(node)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", index, err)
		}
		nodes = append(nodes, encoded)
	}
	return codec.Marshal(nodes)
}

// UnmarshalCBOR decodes a tree produced by MarshalCBOR.
func (t *Tree) UnmarshalCBOR(data []byte) error {
	var nodes []wireAction
	if err := codec.Unmarshal(data, &nodes); err != nil {
		return fmt.Errorf("decoding action tree: %w", err)
	}
	actions := make([]Action, 0, len(nodes))
	for index, node := range nodes {
		decoded, err := fromWire(node)
		if err != nil {
			return fmt.Errorf("action %d: %w", index, err)
		}
		actions = append(actions, decoded)
	}
	t.actions = actions
	return nil
}

func toWire(node Action) (wireAction, error) {
	switch current := node.(type) {
	case Leaf:
		return wireAction{
			Kind:   KindLeaf.String(),
			Name:   current.name,
			Params: current.params,
			Env:    current.env,
		}, nil
	case Group:
		children := make([]wireAction, 0, len(current.children))
		for index, child := range current.children {
			encoded, err := toWire(child)
			if err != nil {
				return wireAction{}, fmt.Errorf("%s child %d: %w", current.Kind(), index, err)
			}
			children = append(children, encoded)
		}
		return wireAction{
			Kind:     current.Kind().String(),
			Name:     current.name,
			Children: children,
		}, nil
	default:
		return wireAction{}, fmt.Errorf("unsupported action %T", node)
	}
}

func fromWire(node wireAction) (Action, error) {
	kind, err := ParseKind(node.Kind)
	if err != nil {
		return nil, err
	}

	if kind == KindLeaf {
		if len(node.Children) > 0 {
			return nil, fmt.Errorf("leaf %q has children", node.Name)
		}
		return NewLeaf(node.Name, node.Params, node.Env), nil
	}

	children := make([]Action, 0, len(node.Children))
	for index, child := range node.Children {
		decoded, err := fromWire(child)
		if err != nil {
			return nil, fmt.Errorf("%s child %d: %w", kind, index, err)
		}
		children = append(children, decoded)
	}
	return Group{name: node.Name, mode: kind, children: children}, nil
}
