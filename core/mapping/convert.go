package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/entitycore/core/collection"
	"github.com/artpar/entitycore/core/events"
	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
	"github.com/artpar/entitycore/ports"
)

// session is one unit of work against a gateway, usually a transaction.
// It shares eagerly loaded entities so reference cycles terminate, and it
// queues events until the unit commits.
type session struct {
	*Service
	gw      ports.Gateway
	seen    map[types.Ref]map[string]*model.Entity
	pending []events.Event
}

func (s *Service) session(gw ports.Gateway) *session {
	return &session{Service: s, gw: gw, seen: make(map[types.Ref]map[string]*model.Entity)}
}

// publish sends the queued events. Called after commit.
func (ss *session) publish(ctx context.Context) {
	for _, ev := range ss.pending {
		ss.events.Publish(ctx, ev)
	}
	ss.pending = nil
}

func (ss *session) emit(def *model.DataDefinition, action string, row *model.Row, created bool) {
	ss.pending = append(ss.pending, events.Event{
		Name:       events.Name(def.Ref(), action),
		Definition: def.Ref(),
		Action:     action,
		ID:         row.ID,
		Created:    created,
		Data:       rowData(def, row),
		At:         ss.now(),
	})
}

// rowData returns the persisted values of row keyed by field name.
// Password hashes are left out.
func rowData(def *model.DataDefinition, row *model.Row) map[string]any {
	data := make(map[string]any, len(row.Slots)+1)
	data[model.IDField] = row.ID
	for _, f := range def.Fields() {
		if !f.Persistent() || f.Kind() == types.KindPassword {
			continue
		}
		acc, _ := def.Accessor(f.Name())
		data[f.Name()] = acc.Get(row)
	}
	return data
}

func (ss *session) get(ctx context.Context, def *model.DataDefinition, id string) (*model.Entity, error) {
	if e, ok := ss.seen[def.Ref()][id]; ok {
		return e, nil
	}
	row, err := ss.gw.FetchByID(ctx, def, id)
	if err != nil {
		return nil, err
	}
	return ss.toGeneric(ctx, def, row)
}

func (ss *session) remember(def *model.DataDefinition, e *model.Entity) {
	m, ok := ss.seen[def.Ref()]
	if !ok {
		m = make(map[string]*model.Entity)
		ss.seen[def.Ref()] = m
	}
	m[e.ID()] = e
}

func (ss *session) toGeneric(ctx context.Context, def *model.DataDefinition, row *model.Row) (*model.Entity, error) {
	e := model.NewWithID(def, row.ID)
	ss.remember(def, e)

	for _, f := range def.Fields() {
		name := f.Name()
		value, err := ss.readField(ctx, def, f, row)
		if err != nil {
			return nil, fmt.Errorf("convert %s field %q: %w", e, name, err)
		}
		if err := e.SetField(ctx, name, value); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (ss *session) readField(ctx context.Context, def *model.DataDefinition, f *model.FieldDefinition, row *model.Row) (any, error) {
	acc, hasSlot := def.Accessor(f.Name())

	switch t := f.Type().(type) {
	case types.BelongsTo:
		id := types.ReferenceID(acc.Get(row))
		if id == "" {
			return nil, nil
		}
		target, err := ss.resolve(t.Target())
		if err != nil {
			return nil, err
		}
		if t.Lazy() {
			return model.NewProxy(target, id, ss.Service), nil
		}
		return ss.get(ctx, target, id)

	case types.ManyToMany:
		target, err := ss.resolve(t.Target())
		if err != nil {
			return nil, err
		}
		ids, _ := acc.Get(row).([]string)
		return collection.NewManyToMany(ss.Service, target, ids), nil

	case types.Tree:
		target, err := ss.resolve(t.Target())
		if err != nil {
			return nil, err
		}
		return collection.NewTree(ss.Service, target, t.JoinField(), t.Parent(), row.ID), nil

	case types.HasMany:
		target, err := ss.resolve(t.Target())
		if err != nil {
			return nil, err
		}
		return collection.NewList(ss.Service, target, t.JoinField(), row.ID), nil
	}

	if !hasSlot {
		return nil, nil
	}
	return acc.Get(row), nil
}

func (ss *session) toPersisted(ctx context.Context, def *model.DataDefinition, e *model.Entity, existing *model.Row) (*model.Row, error) {
	row, updating, err := ss.baseRow(ctx, def, e, existing)
	if err != nil {
		return nil, err
	}

	values, err := e.Values(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range def.Fields() {
		if !f.Persistent() {
			continue
		}
		// Stored priorities only change through moves.
		if updating && f.Kind() == types.KindPriority {
			continue
		}
		raw, ok := values[f.Name()]
		if !ok {
			continue
		}
		v, err := persistedValue(ctx, f, raw)
		if err != nil {
			var ce *types.ConversionError
			if errors.As(err, &ce) {
				e.AddError(f.Name(), ce.Key, ce.Args...)
				continue
			}
			return nil, fmt.Errorf("convert %s field %q: %w", e, f.Name(), err)
		}
		acc, _ := def.Accessor(f.Name())
		if f.Kind() == types.KindBelongsTo && v != nil && v != acc.Get(row) {
			if err := ss.referenced(ctx, def, f, row, v.(string)); err != nil {
				return nil, err
			}
		}
		acc.Set(row, v)
	}
	return row, nil
}

// referenced checks that the target of belongs_to field f holds id. A row
// may reference itself before it is stored.
func (ss *session) referenced(ctx context.Context, def *model.DataDefinition, f *model.FieldDefinition, row *model.Row, id string) error {
	rel, _ := f.Relation()
	target, err := ss.resolve(rel.Target())
	if err != nil {
		return err
	}
	if target.Ref() == def.Ref() && id == row.ID {
		return nil
	}
	_, err = ss.gw.FetchByID(ctx, target, id)
	if errors.Is(err, model.ErrNotFound) {
		return &model.PersistenceError{Op: "reference", Definition: def.Ref(), Err: fmt.Errorf("field %q: %s %q: %w", f.Name(), target, id, err)}
	}
	return err
}

// baseRow returns the row values are merged into and whether it is
// already stored.
func (ss *session) baseRow(ctx context.Context, def *model.DataDefinition, e *model.Entity, existing *model.Row) (*model.Row, bool, error) {
	if existing != nil {
		return existing.Clone(), true, nil
	}
	if e.ID() == "" {
		return def.NewRow(), false, nil
	}
	stored, err := ss.gw.FetchByID(ctx, def, e.ID())
	if errors.Is(err, model.ErrNotFound) {
		// Caller-assigned id.
		row := def.NewRow()
		row.ID = e.ID()
		return row, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

// persistedValue converts an entity value into its slot value.
func persistedValue(ctx context.Context, f *model.FieldDefinition, raw any) (any, error) {
	switch f.Kind() {
	case types.KindBelongsTo:
		v, err := f.Type().ToObject(raw)
		if err != nil {
			return nil, err
		}
		if id := types.ReferenceID(v); id != "" {
			return id, nil
		}
		return nil, nil

	case types.KindManyToMany:
		switch v := raw.(type) {
		case *collection.List:
			return v.IDs(), nil
		case model.Collection:
			all, err := v.All(ctx)
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(all))
			for i, item := range all {
				ids[i] = item.ID()
			}
			return ids, nil
		}
	}
	return f.Type().ToObject(raw)
}
