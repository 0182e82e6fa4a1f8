package collection

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
)

// Node is one entity of a tree.
type Node struct {
	Entity   *model.Entity
	Parent   *Node
	Children []*Node
}

// Depth returns the number of ancestors.
func (n *Node) Depth() int {
	d := 0
	for p := n.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}

// Walk visits n and its descendants depth first in sibling order.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// BuildTree links entities through parentField. Entities are expected in
// sibling order. A node whose parent is absent, itself, or not among the
// entities is a root; there must be exactly one, and every node must be
// reachable from it.
func BuildTree(ctx context.Context, def *model.DataDefinition, parentField string, entities []*model.Entity) (*Node, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	nodes := make(map[string]*Node, len(entities))
	for _, e := range entities {
		nodes[e.ID()] = &Node{Entity: e}
	}

	var roots []*Node
	for _, e := range entities {
		n := nodes[e.ID()]
		v, err := e.Field(ctx, parentField)
		if err != nil {
			return nil, err
		}
		pid := types.ReferenceID(v)
		parent, ok := nodes[pid]
		if pid == "" || pid == e.ID() || !ok {
			roots = append(roots, n)
			continue
		}
		n.Parent = parent
		parent.Children = append(parent.Children, n)
	}

	if len(roots) != 1 {
		return nil, &model.StructuralError{
			Definition: def.Ref(),
			Err:        model.ErrInvalidTreeStructure,
			Detail:     fmt.Sprintf("found %d roots, want 1", len(roots)),
		}
	}

	reached := 0
	roots[0].Walk(func(*Node) { reached++ })
	if reached != len(entities) {
		return nil, &model.StructuralError{
			Definition: def.Ref(),
			Err:        model.ErrInvalidTreeStructure,
			Detail:     fmt.Sprintf("%d of %d nodes unreachable from the root", len(entities)-reached, len(entities)),
		}
	}
	return roots[0], nil
}

// Tree is a has-many collection whose entities nest through a parent
// field. Reads see the depth-first flattening in sibling order.
type Tree struct {
	list        *List
	parentField string

	mu    sync.Mutex
	built bool
	root  *Node
	flat  []*Node
}

// NewTree returns the tree of ownerID's children.
func NewTree(finder model.Finder, target *model.DataDefinition, joinField, parentField, ownerID string) *Tree {
	return &Tree{
		list:        NewList(finder, target, joinField, ownerID),
		parentField: parentField,
	}
}

// Definition returns the target definition.
func (t *Tree) Definition() *model.DataDefinition { return t.list.target }

// Find returns a copy of the criteria selecting the tree's rows.
func (t *Tree) Find() *model.Criteria { return t.list.Find() }

func (t *Tree) build(ctx context.Context) ([]*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.built {
		return t.flat, nil
	}
	entities, err := t.list.load(ctx)
	if err != nil {
		return nil, err
	}
	root, err := BuildTree(ctx, t.list.target, t.parentField, entities)
	if err != nil {
		return nil, err
	}
	var flat []*Node
	if root != nil {
		root.Walk(func(n *Node) { flat = append(flat, n) })
	}
	t.root, t.flat, t.built = root, flat, true
	return t.flat, nil
}

// Root returns the root node, or nil for an empty tree.
func (t *Tree) Root(ctx context.Context) (*Node, error) {
	if _, err := t.build(ctx); err != nil {
		return nil, err
	}
	return t.root, nil
}

// Len returns the number of nodes.
func (t *Tree) Len(ctx context.Context) (int, error) {
	flat, err := t.build(ctx)
	return len(flat), err
}

// At returns the i-th entity in depth-first order.
func (t *Tree) At(ctx context.Context, i int) (*model.Entity, error) {
	flat, err := t.build(ctx)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(flat) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", i, len(flat))
	}
	return flat[i].Entity, nil
}

// All returns every entity in depth-first order.
func (t *Tree) All(ctx context.Context) ([]*model.Entity, error) {
	flat, err := t.build(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Entity, len(flat))
	for i, n := range flat {
		out[i] = n.Entity
	}
	return out, nil
}

// Nodes returns the flattened nodes.
func (t *Tree) Nodes(ctx context.Context) ([]*Node, error) {
	flat, err := t.build(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(flat), nil
}

var _ model.Collection = (*Tree)(nil)
