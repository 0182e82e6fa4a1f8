package schema

import (
	"errors"
	"fmt"

	"github.com/artpar/entitycore/core/expression"
	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
	"github.com/artpar/entitycore/core/validation"
)

// Compile builds a data definition from a parsed model. Field kinds are
// resolved through reg and named hooks and validators through cat.
func Compile(m Model, reg *types.Registry, cat *Catalog) (*model.DataDefinition, error) {
	owner := types.Ref{Plugin: m.Plugin, Name: m.Name}
	fail := func(format string, args ...any) (*model.DataDefinition, error) {
		return nil, &model.SchemaError{Definition: owner, Reason: fmt.Sprintf(format, args...)}
	}

	spec := model.DefinitionSpec{
		Plugin:               m.Plugin,
		Name:                 m.Name,
		IdentifierExpression: m.Identifier,
		Flags:                flags(m.Flags),
	}

	for _, f := range m.Fields {
		typ, err := reg.Build(types.Kind(f.Type), types.Params{
			Owner:       owner,
			Field:       f.Name,
			To:          f.To,
			JoinField:   f.JoinField,
			ParentField: f.ParentField,
			Cascade:     f.Cascade,
			Lazy:        f.Lazy,
			Copyable:    f.Copy,
			MaxLength:   f.MaxLength,
			Scale:       f.Scale,
			Scope:       f.Scope,
			Values:      f.Values,
			Inactive:    f.Inactive,
		})
		if err != nil {
			return fail("%v", err)
		}

		fs := model.FieldSpec{
			Name:     f.Name,
			Type:     typ,
			Required: f.Required,
			Unique:   f.Unique,
			ReadOnly: f.ReadOnly,
		}
		if f.Default != nil {
			if fs.Default, err = typ.ToObject(f.Default); err != nil {
				return fail("field %q: default: %v", f.Name, err)
			}
		}
		for _, c := range f.Constraints {
			v, err := validation.NewValidator(c)
			if err != nil {
				return fail("field %q: %v", f.Name, err)
			}
			fs.Validators = append(fs.Validators, v)
		}
		for _, name := range f.Validators {
			v, err := cat.FieldValidator(name)
			if err != nil {
				return fail("field %q: %v", f.Name, err)
			}
			fs.Validators = append(fs.Validators, v)
		}
		spec.Fields = append(spec.Fields, fs)
	}

	for _, h := range m.Hooks {
		hook, err := cat.Hook(h.Name)
		if err != nil {
			return fail("%v", err)
		}
		spec.Hooks = append(spec.Hooks, model.HookSpec{
			Type:  model.HookType(h.Type),
			Phase: model.Phase(h.Phase),
			Name:  h.Name,
			Hook:  hook,
		})
	}

	for _, name := range m.Validators {
		v, err := cat.EntityValidator(name)
		if err != nil {
			return fail("%v", err)
		}
		spec.EntityValidators = append(spec.EntityValidators, v)
	}

	def, err := model.Compile(spec)
	if err != nil {
		return nil, err
	}

	// Filters are compiled against the definition so their values can be
	// converted by the field types.
	filters, err := compileFilters(def, m.Filters)
	if err != nil {
		return fail("%v", err)
	}
	if len(filters) > 0 {
		spec.Filters = filters
		if def, err = model.Compile(spec); err != nil {
			return nil, err
		}
	}

	if _, err := expression.Compile(def); err != nil {
		return nil, err
	}
	return def, nil
}

// CompileAll compiles every model and reports all failures together.
func CompileAll(models []Model, reg *types.Registry, cat *Catalog) ([]*model.DataDefinition, error) {
	defs := make([]*model.DataDefinition, 0, len(models))
	var errs []error
	for _, m := range models {
		def, err := Compile(m, reg, cat)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, def)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return defs, nil
}

func flags(f Flags) model.Flags {
	out := model.DefaultFlags()
	if f.Creatable != nil {
		out.Creatable = *f.Creatable
	}
	if f.Updatable != nil {
		out.Updatable = *f.Updatable
	}
	if f.Deletable != nil {
		out.Deletable = *f.Deletable
	}
	out.Auditable = f.Auditable
	out.Activable = f.Activable
	return out
}

func compileFilters(def *model.DataDefinition, filters []Filter) ([]model.PredefinedFilter, error) {
	out := make([]model.PredefinedFilter, 0, len(filters))
	for _, f := range filters {
		pf := model.PredefinedFilter{Name: f.Name}
		for _, r := range f.Restrictions {
			res, err := restriction(def, r)
			if err != nil {
				return nil, fmt.Errorf("filter %q: %w", f.Name, err)
			}
			pf.Restrictions = append(pf.Restrictions, res)
		}
		for _, o := range f.Orders {
			if o.Field != model.IDField && !def.HasField(o.Field) {
				return nil, fmt.Errorf("filter %q: order field %q not found", f.Name, o.Field)
			}
			pf.Orders = append(pf.Orders, model.Order{Field: o.Field, Desc: o.Desc})
		}
		out = append(out, pf)
	}
	return out, nil
}

func restriction(def *model.DataDefinition, r Restriction) (model.Restriction, error) {
	res := model.Restriction{Field: r.Field, Op: model.Op(r.Op), Value: r.Value, Upper: r.Upper}
	if r.Field == model.IDField {
		return res, nil
	}
	f, err := def.Field(r.Field)
	if err != nil {
		return res, err
	}

	switch res.Op {
	case model.OpIsNull, model.OpIsNotNull:
		res.Value, res.Upper = nil, nil
		return res, nil
	case model.OpLike, model.OpBelongsTo:
		res.Value = fmt.Sprint(r.Value)
		return res, nil
	case model.OpIn:
		list, ok := r.Value.([]any)
		if !ok {
			return res, fmt.Errorf("field %q: in requires a list", r.Field)
		}
		values := make([]any, len(list))
		for i, v := range list {
			if values[i], err = f.Type().ToObject(v); err != nil {
				return res, fmt.Errorf("field %q: %w", r.Field, err)
			}
		}
		res.Value = values
		return res, nil
	}

	if res.Value, err = f.Type().ToObject(r.Value); err != nil {
		return res, fmt.Errorf("field %q: %w", r.Field, err)
	}
	if res.Op == model.OpBetween {
		if res.Upper, err = f.Type().ToObject(r.Upper); err != nil {
			return res, fmt.Errorf("field %q: %w", r.Field, err)
		}
	}
	return res, nil
}
