// Package collection implements the lazily loaded relation collections
// bound to an owner entity: has-many lists, many-to-many sets and trees.
//
// A collection queries nothing until first read and then keeps an
// immutable snapshot. A failed load leaves it unloaded so the next read
// retries.
package collection

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/artpar/entitycore/core/model"
)

// List is a has-many or many-to-many collection.
type List struct {
	finder model.Finder
	target *model.DataDefinition
	base   *model.Criteria
	empty  bool

	// ids is set for many-to-many lists.
	ids []string

	mu     sync.Mutex
	loaded bool
	items  []*model.Entity
}

// NewList returns the children of ownerID: rows of target whose joinField
// references the owner. An empty ownerID yields an empty list.
func NewList(finder model.Finder, target *model.DataDefinition, joinField, ownerID string) *List {
	l := &List{finder: finder, target: target, empty: ownerID == ""}
	l.base = ordered(target, model.NewCriteria().BelongsTo(joinField, ownerID))
	return l
}

// NewManyToMany returns the rows of target with the given ids.
func NewManyToMany(finder model.Finder, target *model.DataDefinition, ids []string) *List {
	l := &List{finder: finder, target: target, ids: slices.Clone(ids), empty: len(ids) == 0}
	in := make([]any, len(ids))
	for i, id := range ids {
		in[i] = id
	}
	l.base = ordered(target, model.NewCriteria().In(model.IDField, in...))
	return l
}

// ordered sorts by the target's priority field when it has one, then by id.
func ordered(target *model.DataDefinition, c *model.Criteria) *model.Criteria {
	if target.Prioritizable() {
		c.Asc(target.PriorityField().Name())
	}
	return c.Asc(model.IDField)
}

// Definition returns the target definition.
func (l *List) Definition() *model.DataDefinition { return l.target }

// IDs returns the referenced ids of a many-to-many list, without loading.
func (l *List) IDs() []string { return slices.Clone(l.ids) }

// Find returns a copy of the criteria selecting the collection, for callers
// that want to narrow it further.
func (l *List) Find() *model.Criteria { return l.base.Clone() }

// Loaded reports whether the list has been read.
func (l *List) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

func (l *List) load(ctx context.Context) ([]*model.Entity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.items, nil
	}
	if l.empty {
		l.loaded = true
		return nil, nil
	}
	res, err := l.finder.Find(ctx, l.target, l.base.Clone())
	if err != nil {
		return nil, fmt.Errorf("load %s collection: %w", l.target, err)
	}
	l.items = res.Entities
	l.loaded = true
	return l.items, nil
}

// Len returns the number of entities.
func (l *List) Len(ctx context.Context) (int, error) {
	items, err := l.load(ctx)
	return len(items), err
}

// At returns the i-th entity.
func (l *List) At(ctx context.Context, i int) (*model.Entity, error) {
	items, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(items) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", i, len(items))
	}
	return items[i], nil
}

// All returns every entity. The slice is a copy.
func (l *List) All(ctx context.Context) ([]*model.Entity, error) {
	items, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(items), nil
}

var _ model.Collection = (*List)(nil)
