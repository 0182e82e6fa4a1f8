// Package validation converts entity values through their field types and
// runs field validators, entity validators and lifecycle hooks.
//
// Validation never short-circuits: every conversion error and every failed
// validator is recorded on the entity so callers can report all problems
// in one pass.
package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
)

// Counter counts rows matching criteria. Gateways implement it; the
// pipeline uses it for unique checks.
type Counter interface {
	Count(ctx context.Context, def *model.DataDefinition, c *model.Criteria) (int, error)
}

// Pipeline runs conversion, validators and hooks.
type Pipeline struct {
	logger zerolog.Logger
}

// New creates a pipeline.
func New(logger zerolog.Logger) *Pipeline {
	return &Pipeline{logger: logger}
}

// Validate converts the values present on e in place and runs every check.
// old is the stored entity for updates and nil for creates. It returns
// whether e is valid; the error is reserved for failures that are not
// validation problems (a broken gateway, a hasher failure).
func (p *Pipeline) Validate(ctx context.Context, counter Counter, e *model.Entity, old *model.Entity) (bool, error) {
	def := e.Definition()
	values, err := e.Values(ctx)
	if err != nil {
		return false, err
	}
	creating := old == nil

	for _, f := range def.Fields() {
		// Collections and system timestamps have no writable slot.
		if !f.Persistent() {
			continue
		}
		name := f.Name()
		raw, present := values[name]
		if !present {
			if !creating {
				continue
			}
			if f.Default() == nil {
				if f.Required() {
					e.AddError(name, MsgMissing)
				}
				continue
			}
			raw = f.Default()
		}
		if f.ReadOnly() && !creating {
			// Read-only fields keep their stored value on update.
			_ = e.Unset(ctx, name)
			continue
		}

		value, failure, err := convert(f, raw)
		if err != nil {
			return false, err
		}
		if failure != nil {
			e.AddError(name, failure.Key, failure.Args...)
			continue
		}
		if err := e.SetField(ctx, name, value); err != nil {
			return false, err
		}
		if _, isCollection := value.(model.Collection); isCollection {
			continue
		}

		if value == nil {
			if f.Required() {
				e.AddError(name, MsgMissing)
			}
			continue
		}
		if f.Kind() == types.KindBelongsTo && types.ReferenceID(value) == "" {
			e.AddError(name, types.MsgInvalidReference)
			continue
		}

		if f.Unique() && counter != nil {
			dup, err := p.duplicated(ctx, counter, def, f, e.ID(), value)
			if err != nil {
				return false, err
			}
			if dup {
				e.AddError(name, MsgDuplicated)
			}
		}

		var oldValue any
		if old != nil {
			if oldValue, err = old.Field(ctx, name); err != nil {
				return false, err
			}
		}
		for _, v := range f.Validators() {
			v.Validate(ctx, f, e, oldValue, value)
		}
	}

	for _, v := range def.EntityValidators() {
		v.Validate(ctx, e)
	}

	if !e.IsValid() {
		p.logger.Debug().
			Str("definition", def.Ref().String()).
			Str("id", e.ID()).
			Str("errors", e.ErrorSummary()).
			Msg("validation failed")
	}
	return e.IsValid(), nil
}

// convert runs the field type conversion. A conversion error is returned
// as failure; any other error aborts validation.
func convert(f *model.FieldDefinition, raw any) (any, *types.ConversionError, error) {
	value, err := f.Type().ToObject(raw)
	if err == nil {
		return value, nil, nil
	}
	var ce *types.ConversionError
	if errors.As(err, &ce) {
		return nil, ce, nil
	}
	return nil, nil, fmt.Errorf("convert field %q: %w", f.Name(), err)
}

func (p *Pipeline) duplicated(ctx context.Context, counter Counter, def *model.DataDefinition, f *model.FieldDefinition, id string, value any) (bool, error) {
	c := model.NewCriteria()
	if f.Kind() == types.KindBelongsTo {
		c.BelongsTo(f.Name(), types.ReferenceID(value))
	} else {
		c.Eq(f.Name(), value)
	}
	if id != "" {
		c.Ne(model.IDField, id)
	}
	n, err := counter.Count(ctx, def, c)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RunHooks calls the hooks of (t, phase) in order and stops at the first
// that returns false.
func (p *Pipeline) RunHooks(ctx context.Context, t model.HookType, phase model.Phase, e *model.Entity) bool {
	for i, h := range e.Definition().Hooks(t, phase) {
		if !h.Call(ctx, e) {
			p.logger.Debug().
				Str("definition", e.Definition().Ref().String()).
				Str("hook", string(t)).
				Str("phase", string(phase)).
				Int("index", i).
				Msg("hook aborted operation")
			return false
		}
	}
	return true
}
