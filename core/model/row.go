package model

import (
	"slices"
	"time"

	"github.com/artpar/entitycore/core/types"
)

// Row is the persisted shape of an entity: an id, one slot per column in
// layout order, and system timestamps maintained by the gateway.
//
// Slot values are canonical: bool, int64, float64, string, time.Time,
// []string for many_to_many, the target id string for belongs_to, or nil.
type Row struct {
	ID        string
	Slots     []any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone copies the row. Slot values are immutable, except id lists which
// are copied.
func (r *Row) Clone() *Row {
	out := *r
	out.Slots = make([]any, len(r.Slots))
	for i, v := range r.Slots {
		if ids, ok := v.([]string); ok {
			v = slices.Clone(ids)
		}
		out.Slots[i] = v
	}
	return &out
}

// Column is one persisted slot.
type Column struct {
	Name string
	Kind types.Kind
	// Target is set for belongs_to and many_to_many columns.
	Target types.Ref
}

// Accessor reads and writes one field's slot on a row.
type Accessor struct {
	Get func(r *Row) any
	Set func(r *Row, v any)
}

func slotAccessor(i int) Accessor {
	return Accessor{
		Get: func(r *Row) any {
			if i >= len(r.Slots) {
				return nil
			}
			return r.Slots[i]
		},
		Set: func(r *Row, v any) {
			if i >= len(r.Slots) {
				r.Slots = append(r.Slots, make([]any, i+1-len(r.Slots))...)
			}
			r.Slots[i] = v
		},
	}
}
