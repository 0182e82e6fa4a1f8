package mapping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/entitycore/core/events"
	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/priority"
	"github.com/artpar/entitycore/core/types"
)

// Delete removes e and applies the cascade policies of its has-many and
// tree fields. A vetoing delete hook aborts with *model.AbortedError and
// nothing is removed.
func (s *Service) Delete(ctx context.Context, e *model.Entity) (err error) {
	def := e.Definition()
	var result string
	defer s.observe(def, OpDelete, time.Now(), &result, &err)

	if !def.Flags().Deletable {
		return fmt.Errorf("delete %s: %w", e, model.ErrOperationNotAllowed)
	}
	if e.ID() == "" {
		return fmt.Errorf("delete %s: %w", e, model.ErrNotFound)
	}

	return s.inTx(ctx, func(ctx context.Context, sess *session) error {
		return sess.delete(ctx, def, e.ID())
	})
}

// delete removes one row by id. The row is read fresh so earlier cascade
// steps in the same transaction are taken into account.
func (ss *session) delete(ctx context.Context, def *model.DataDefinition, id string) error {
	if !def.Flags().Deletable {
		return fmt.Errorf("delete %s %q: %w", def, id, model.ErrOperationNotAllowed)
	}
	row, err := ss.gw.FetchByID(ctx, def, id)
	if err != nil {
		return err
	}
	current, err := ss.toGeneric(ctx, def, row)
	if err != nil {
		return err
	}
	if !ss.pipeline.RunHooks(ctx, model.HookDelete, model.PhaseBefore, current) {
		return &model.AbortedError{Hook: model.HookDelete, Entity: current}
	}

	for _, f := range def.Fields() {
		if f.Kind() != types.KindHasMany && f.Kind() != types.KindTree {
			continue
		}
		if err := ss.cascade(ctx, f, id); err != nil {
			return err
		}
	}

	// Re-read: a tree cascade may have renumbered this row's siblings.
	if row, err = ss.gw.FetchByID(ctx, def, id); err != nil {
		return err
	}
	if def.Prioritizable() {
		p, err := priority.New(def)
		if err != nil {
			return err
		}
		if err := p.OnDelete(ctx, ss.gw, row); err != nil {
			return err
		}
	}
	if err := ss.gw.Remove(ctx, def, row); err != nil {
		return err
	}

	if !ss.pipeline.RunHooks(ctx, model.HookDelete, model.PhaseAfter, current) {
		return &model.AbortedError{Hook: model.HookDelete, Entity: current}
	}

	ss.emit(def, events.ActionDeleted, row, false)
	ss.logger.Debug().
		Str("definition", def.Ref().String()).
		Str("id", id).
		Msg("entity deleted")
	return nil
}

// cascade applies the delete policy of a has-many or tree field of the
// owner ownerID.
func (ss *session) cascade(ctx context.Context, f *model.FieldDefinition, ownerID string) error {
	rel, _ := f.Relation()
	if rel.Cascade() == types.CascadeNone {
		return nil
	}
	target, err := ss.resolve(rel.Target())
	if err != nil {
		return err
	}
	var p *priority.Prioritizer
	c := model.NewCriteria().BelongsTo(rel.JoinField(), ownerID)
	if rel.Cascade() == types.CascadeNullify && target.Prioritizable() {
		if p, err = priority.New(target); err != nil {
			return err
		}
		// Released children keep their relative order in their new scope.
		c.Asc(p.Field())
	} else {
		c.Desc(model.IDField)
	}
	children, err := ss.gw.Query(ctx, target, c)
	if err != nil {
		return err
	}

	switch rel.Cascade() {
	case types.CascadeDelete:
		for _, child := range children {
			// Deleting a tree node under its own parent may already have
			// removed it.
			if _, err := ss.gw.FetchByID(ctx, target, child.ID); errors.Is(err, model.ErrNotFound) {
				continue
			} else if err != nil {
				return err
			}
			if err := ss.delete(ctx, target, child.ID); err != nil {
				return fmt.Errorf("cascade %s: %w", f.Name(), err)
			}
		}
	case types.CascadeNullify:
		acc, ok := target.Accessor(rel.JoinField())
		if !ok || acc.Set == nil {
			return &model.SchemaError{Definition: target.Ref(), Reason: fmt.Sprintf("join field %q is not stored", rel.JoinField())}
		}
		for _, child := range children {
			if p != nil {
				// Releasing an earlier child may have shifted this one.
				if child, err = ss.gw.FetchByID(ctx, target, child.ID); err != nil {
					return err
				}
			}
			old := child.Clone()
			acc.Set(child, nil)
			if p != nil {
				if err := p.Rescope(ctx, ss.gw, old, child); err != nil {
					return err
				}
			}
			if _, err := ss.gw.Persist(ctx, target, child); err != nil {
				return err
			}
		}
	}
	return nil
}
