package mapping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/entitycore/core/events"
	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/priority"
)

// Save validates and stores e. It returns the stored entity, converted
// back from the persisted row. When validation fails or a hook vetoes it
// returns e itself, carrying its errors, and stores nothing.
func (s *Service) Save(ctx context.Context, e *model.Entity) (out *model.Entity, err error) {
	def := e.Definition()
	var result string
	defer s.observe(def, OpSave, time.Now(), &result, &err)

	err = s.inTx(ctx, func(ctx context.Context, sess *session) error {
		saved, ok, err := sess.save(ctx, e)
		if err != nil {
			return err
		}
		if !ok {
			return errVetoed
		}
		out = saved
		return nil
	})
	if errors.Is(err, errVetoed) {
		result = ResultInvalid
		return e, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// save runs the save lifecycle inside the session's transaction. ok is
// false when e is invalid or a hook vetoed; e then carries the errors.
func (ss *session) save(ctx context.Context, e *model.Entity) (*model.Entity, bool, error) {
	def := e.Definition()
	flags := def.Flags()

	creating := e.ID() == ""
	if creating && !flags.Creatable {
		return nil, false, fmt.Errorf("create %s: %w", def, model.ErrOperationNotAllowed)
	}

	var existing *model.Row
	var old *model.Entity
	if !creating {
		row, err := ss.gw.FetchByID(ctx, def, e.ID())
		switch {
		case errors.Is(err, model.ErrNotFound):
			// A caller-assigned id inserts a new row.
			if !flags.Creatable {
				return nil, false, fmt.Errorf("create %s: %w", e, model.ErrOperationNotAllowed)
			}
			creating = true
		case err != nil:
			return nil, false, err
		case !flags.Updatable:
			return nil, false, fmt.Errorf("update %s: %w", e, model.ErrOperationNotAllowed)
		default:
			existing = row
			if old, err = ss.toGeneric(ctx, def, row); err != nil {
				return nil, false, err
			}
		}
	}

	e.ClearErrors()
	valid, err := ss.pipeline.Validate(ctx, ss.gw, e, old)
	if err != nil {
		return nil, false, err
	}
	if !valid {
		return nil, false, nil
	}

	hook := model.HookUpdate
	if creating {
		hook = model.HookCreate
	}
	if !ss.runHooks(ctx, hook, model.PhaseBefore, e) || !ss.runHooks(ctx, model.HookSave, model.PhaseBefore, e) {
		return nil, false, nil
	}

	row, err := ss.toPersisted(ctx, def, e, existing)
	if err != nil {
		return nil, false, err
	}
	if !e.IsValid() {
		return nil, false, nil
	}
	if def.Prioritizable() {
		p, err := priority.New(def)
		if err != nil {
			return nil, false, err
		}
		if creating {
			err = p.OnCreate(ctx, ss.gw, row)
		} else {
			// A changed scope leaves the old siblings and joins the new ones.
			err = p.Rescope(ctx, ss.gw, existing, row)
		}
		if err != nil {
			return nil, false, err
		}
	}

	stored, err := ss.gw.Persist(ctx, def, row)
	if err != nil {
		return nil, false, err
	}
	out, err := ss.toGeneric(ctx, def, stored)
	if err != nil {
		return nil, false, err
	}

	if !ss.runHooks(ctx, hook, model.PhaseAfter, out) || !ss.runHooks(ctx, model.HookSave, model.PhaseAfter, out) {
		transferErrors(out, e)
		return nil, false, nil
	}

	ss.emit(def, events.ActionSaved, stored, creating)
	ss.logger.Debug().
		Str("definition", def.Ref().String()).
		Str("id", stored.ID).
		Bool("created", creating).
		Msg("entity saved")
	return out, true, nil
}

// runHooks runs (t, phase) hooks on e. A veto that recorded no reason adds
// MsgAborted so the caller can tell the entity is not saved.
func (ss *session) runHooks(ctx context.Context, t model.HookType, phase model.Phase, e *model.Entity) bool {
	if ss.pipeline.RunHooks(ctx, t, phase, e) {
		return true
	}
	if e.IsValid() {
		e.AddGlobalError(MsgAborted, string(t), string(phase))
	}
	return false
}

func transferErrors(from, to *model.Entity) {
	for field, msgs := range from.Errors() {
		for _, m := range msgs {
			to.AddError(field, m.Key, m.Args...)
		}
	}
	for _, m := range from.GlobalErrors() {
		to.AddGlobalError(m.Key, m.Args...)
	}
}
