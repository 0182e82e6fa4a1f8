// Package priority keeps the priority field of sibling rows a dense 1..N
// sequence across creates, deletes and moves.
//
// Siblings are the rows sharing the value of the definition's scope field,
// or every row when the priority has no scope. Each operation reads the
// rows it affects once and then writes them, all through the gateway it is
// handed; callers pass a transaction so the batch applies atomically.
package priority

import (
	"context"
	"fmt"
	"slices"

	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
	"github.com/artpar/entitycore/ports"
)

// Prioritizer maintains the priority sequence of one definition.
type Prioritizer struct {
	def      *model.DataDefinition
	field    string
	priority model.Accessor
	scope    string
	scopeAcc model.Accessor
}

// New returns the prioritizer of def, which must have a priority field.
func New(def *model.DataDefinition) (*Prioritizer, error) {
	f := def.PriorityField()
	if f == nil {
		return nil, &model.SchemaError{Definition: def.Ref(), Reason: "no priority field"}
	}
	p := &Prioritizer{def: def, field: f.Name(), scope: def.PriorityScope()}
	p.priority, _ = def.Accessor(p.field)
	if p.scope != "" {
		p.scopeAcc, _ = def.Accessor(p.scope)
	}
	return p, nil
}

// Field returns the priority field name.
func (p *Prioritizer) Field() string { return p.field }

// ScopeID returns the scope value of row, "" for an unscoped priority or a
// row without a scope reference.
func (p *Prioritizer) ScopeID(row *model.Row) string {
	if p.scope == "" {
		return ""
	}
	return types.ReferenceID(p.scopeAcc.Get(row))
}

// Of returns the stored priority of row, 0 when unset.
func (p *Prioritizer) Of(row *model.Row) int64 {
	n, err := types.Integer{}.ToObject(p.priority.Get(row))
	if err != nil || n == nil {
		return 0
	}
	return n.(int64)
}

func (p *Prioritizer) siblings(scopeID string) *model.Criteria {
	c := model.NewCriteria()
	if p.scope != "" {
		c.BelongsTo(p.scope, scopeID)
	}
	return c
}

// lock serializes writers on the given scopes when g needs it. Keys are
// taken in sorted order so two transactions never wait on each other.
func (p *Prioritizer) lock(ctx context.Context, g ports.Gateway, scopeIDs ...string) error {
	l, ok := g.(ports.ScopeLocker)
	if !ok {
		return nil
	}
	keys := make([]string, len(scopeIDs))
	for i, id := range scopeIDs {
		keys[i] = p.def.TableName() + "/" + id
	}
	slices.Sort(keys)
	for _, k := range slices.Compact(keys) {
		if err := l.LockScope(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Max returns the highest priority in scopeID, 0 when there are no rows.
func (p *Prioritizer) Max(ctx context.Context, g ports.Gateway, scopeID string) (int64, error) {
	rows, err := g.Query(ctx, p.def, p.siblings(scopeID).Desc(p.field).Page(0, 1))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return p.Of(rows[0]), nil
}

// OnCreate assigns the next priority of the row's scope. Any value already
// on the row is overwritten: new rows always append.
func (p *Prioritizer) OnCreate(ctx context.Context, g ports.Gateway, row *model.Row) error {
	if err := p.lock(ctx, g, p.ScopeID(row)); err != nil {
		return err
	}
	top, err := p.Max(ctx, g, p.ScopeID(row))
	if err != nil {
		return err
	}
	p.priority.Set(row, top+1)
	return nil
}

// OnDelete closes the gap left by row: every sibling above it moves down
// by one. The row itself is not touched.
func (p *Prioritizer) OnDelete(ctx context.Context, g ports.Gateway, row *model.Row) error {
	current := p.Of(row)
	if current == 0 {
		return nil
	}
	if err := p.lock(ctx, g, p.ScopeID(row)); err != nil {
		return err
	}
	above, err := g.Query(ctx, p.def, p.siblings(p.ScopeID(row)).Gt(p.field, current).Asc(p.field))
	if err != nil {
		return err
	}
	return p.shift(ctx, g, above, -1)
}

// Rescope moves row out of the scope old was stored in: the old scope
// closes its gap and row is appended to its new scope. Nothing happens when
// the scope is unchanged. Only row's priority is set; the caller persists
// it.
func (p *Prioritizer) Rescope(ctx context.Context, g ports.Gateway, old, row *model.Row) error {
	from, to := p.ScopeID(old), p.ScopeID(row)
	if from == to {
		return nil
	}
	if err := p.lock(ctx, g, from, to); err != nil {
		return err
	}
	if err := p.OnDelete(ctx, g, old); err != nil {
		return err
	}
	return p.OnCreate(ctx, g, row)
}

// Move moves row by offset positions, clamped to [1, highest priority].
func (p *Prioritizer) Move(ctx context.Context, g ports.Gateway, row *model.Row, offset int64) (*model.Row, error) {
	return p.moveTo(ctx, g, row, p.Of(row)+offset)
}

// MoveTo moves row to position pos, clamped to the highest priority.
// Positions below 1 are rejected before anything is read. A scope that is
// not a dense 1..N sequence is reported as *model.StructuralError and left
// alone.
func (p *Prioritizer) MoveTo(ctx context.Context, g ports.Gateway, row *model.Row, pos int64) (*model.Row, error) {
	if pos < 1 {
		return nil, fmt.Errorf("move %s %q to %d: %w", p.def.Ref(), row.ID, pos, model.ErrInvalidPosition)
	}
	return p.moveTo(ctx, g, row, pos)
}

func (p *Prioritizer) moveTo(ctx context.Context, g ports.Gateway, row *model.Row, target int64) (*model.Row, error) {
	scopeID := p.ScopeID(row)
	if err := p.lock(ctx, g, scopeID); err != nil {
		return nil, err
	}
	top, err := p.check(ctx, g, scopeID)
	if err != nil {
		return nil, err
	}
	target = min(max(target, 1), top)

	current := p.Of(row)
	if target == current {
		return row, nil
	}

	// Rows between the two positions make room in the opposite direction.
	c := p.siblings(scopeID).Ne(model.IDField, row.ID).Asc(p.field)
	delta := int64(1)
	if target < current {
		c.Ge(p.field, target).Lt(p.field, current)
	} else {
		c.Gt(p.field, current).Le(p.field, target)
		delta = -1
	}
	between, err := g.Query(ctx, p.def, c)
	if err != nil {
		return nil, err
	}
	if err := p.shift(ctx, g, between, delta); err != nil {
		return nil, err
	}

	moved := row.Clone()
	p.priority.Set(moved, target)
	return g.Persist(ctx, p.def, moved)
}

func (p *Prioritizer) shift(ctx context.Context, g ports.Gateway, rows []*model.Row, delta int64) error {
	for _, r := range rows {
		p.priority.Set(r, p.Of(r)+delta)
		if _, err := g.Persist(ctx, p.def, r); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks that the priorities in scopeID are exactly 1..N.
func (p *Prioritizer) Verify(ctx context.Context, g ports.Gateway, scopeID string) error {
	_, err := p.check(ctx, g, scopeID)
	return err
}

// check verifies scopeID and returns its highest priority.
func (p *Prioritizer) check(ctx context.Context, g ports.Gateway, scopeID string) (int64, error) {
	rows, err := g.Query(ctx, p.def, p.siblings(scopeID).Asc(p.field).Asc(model.IDField))
	if err != nil {
		return 0, err
	}
	for i, r := range rows {
		if got := p.Of(r); got != int64(i+1) {
			return 0, &model.StructuralError{
				Definition: p.def.Ref(),
				Err:        model.ErrPriorityCorrupt,
				Detail:     fmt.Sprintf("scope %q: position %d holds priority %d (row %s)", scopeID, i+1, got, r.ID),
			}
		}
	}
	return int64(len(rows)), nil
}
