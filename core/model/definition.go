package model

import (
	"fmt"
	"slices"
	"time"

	"github.com/artpar/entitycore/core/types"
)

// Names of fields added by definition flags.
const (
	ActiveField    = "active"
	CreatedAtField = "created_at"
	UpdatedAtField = "updated_at"
)

// Flags toggle operations and implicit fields on a definition.
type Flags struct {
	Creatable bool
	Updatable bool
	Deletable bool
	// Auditable exposes the row timestamps as read-only fields.
	Auditable bool
	// Activable adds a boolean "active" field defaulting to true.
	Activable bool
}

// DefaultFlags allows every operation and adds no implicit fields.
func DefaultFlags() Flags {
	return Flags{Creatable: true, Updatable: true, Deletable: true}
}

// DefinitionSpec declares a data definition before compilation.
type DefinitionSpec struct {
	Plugin               string
	Name                 string
	Fields               []FieldSpec
	IdentifierExpression string
	Flags                Flags
	Hooks                []HookSpec
	EntityValidators     []EntityValidator
	Filters              []PredefinedFilter
}

// DataDefinition describes one entity kind. It is immutable once compiled
// and safe for concurrent use.
type DataDefinition struct {
	ref        types.Ref
	fields     []*FieldDefinition
	byName     map[string]*FieldDefinition
	columns    []Column
	accessors  map[string]Accessor
	identifier string
	flags      Flags
	priority   *FieldDefinition
	hooks      map[hookKey][]Hook
	validators []EntityValidator
	filters    map[string]PredefinedFilter
}

// Compile validates spec and builds the column layout and accessor table.
func Compile(spec DefinitionSpec) (*DataDefinition, error) {
	ref := types.Ref{Plugin: spec.Plugin, Name: spec.Name}
	fail := func(format string, args ...any) (*DataDefinition, error) {
		return nil, &SchemaError{Definition: ref, Reason: fmt.Sprintf(format, args...)}
	}
	if spec.Plugin == "" || spec.Name == "" {
		return fail("plugin and name are required")
	}

	d := &DataDefinition{
		ref:        ref,
		byName:     make(map[string]*FieldDefinition, len(spec.Fields)),
		accessors:  make(map[string]Accessor, len(spec.Fields)),
		identifier: spec.IdentifierExpression,
		flags:      spec.Flags,
		hooks:      make(map[hookKey][]Hook),
		validators: slices.Clone(spec.EntityValidators),
		filters:    make(map[string]PredefinedFilter, len(spec.Filters)),
	}

	fields := slices.Clone(spec.Fields)
	if spec.Flags.Activable && !slices.ContainsFunc(fields, func(f FieldSpec) bool { return f.Name == ActiveField }) {
		fields = append(fields, FieldSpec{Name: ActiveField, Type: types.Boolean{}, Default: true})
	}

	for _, fs := range fields {
		if fs.Name == "" {
			return fail("field without a name")
		}
		if fs.Name == IDField || fs.Name == CreatedAtField || fs.Name == UpdatedAtField {
			return fail("field name %q is reserved", fs.Name)
		}
		if _, dup := d.byName[fs.Name]; dup {
			return fail("duplicate field %q", fs.Name)
		}
		if fs.Type == nil {
			return fail("field %q has no type", fs.Name)
		}
		f := &FieldDefinition{
			name:         fs.Name,
			typ:          fs.Type,
			required:     fs.Required,
			unique:       fs.Unique,
			readOnly:     fs.ReadOnly,
			defaultValue: fs.Default,
			validators:   slices.Clone(fs.Validators),
			column:       -1,
		}
		if persistentKind(f.Kind()) {
			f.column = len(d.columns)
			col := Column{Name: f.name, Kind: f.Kind()}
			if rel, ok := f.Relation(); ok {
				col.Target = rel.Target()
			}
			d.columns = append(d.columns, col)
			d.accessors[f.name] = slotAccessor(f.column)
		}
		if f.Kind() == types.KindPriority {
			if d.priority != nil {
				return fail("more than one priority field (%q, %q)", d.priority.name, f.name)
			}
			d.priority = f
		}
		d.fields = append(d.fields, f)
		d.byName[f.name] = f
	}

	if d.priority != nil {
		if scope := d.PriorityScope(); scope != "" {
			sf, ok := d.byName[scope]
			if !ok {
				return fail("priority scope %q is not a field", scope)
			}
			if sf.Kind() != types.KindBelongsTo {
				return fail("priority scope %q must be a belongs_to field", scope)
			}
		}
	}

	for _, f := range d.fields {
		if rel, ok := f.Relation(); ok && rel.Target().IsZero() {
			return fail("relation %q has no target", f.name)
		}
		if f.Kind() == types.KindHasMany || f.Kind() == types.KindTree {
			if rel, _ := f.Relation(); rel.JoinField() == "" {
				return fail("relation %q has no join field", f.name)
			}
		}
	}

	if spec.Flags.Auditable {
		d.addTimestamp(CreatedAtField, func(r *Row) any { return timeOrNil(r.CreatedAt) })
		d.addTimestamp(UpdatedAtField, func(r *Row) any { return timeOrNil(r.UpdatedAt) })
	}

	for _, h := range spec.Hooks {
		if !validHook(h.Type, h.Phase) {
			return fail("invalid hook %s/%s", h.Type, h.Phase)
		}
		if h.Hook == nil {
			return fail("hook %s/%s %q has no implementation", h.Type, h.Phase, h.Name)
		}
		k := hookKey{h.Type, h.Phase}
		d.hooks[k] = append(d.hooks[k], h.Hook)
	}

	for _, f := range spec.Filters {
		if f.Name == "" {
			return fail("predefined filter without a name")
		}
		if _, dup := d.filters[f.Name]; dup {
			return fail("duplicate predefined filter %q", f.Name)
		}
		d.filters[f.Name] = f
	}

	return d, nil
}

func (d *DataDefinition) addTimestamp(name string, get func(*Row) any) {
	f := &FieldDefinition{name: name, typ: types.DateTime{}, readOnly: true, column: -1}
	d.fields = append(d.fields, f)
	d.byName[name] = f
	d.accessors[name] = Accessor{Get: get}
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// MustCompile is like Compile but panics on error. For tests and static
// definitions.
func MustCompile(spec DefinitionSpec) *DataDefinition {
	d, err := Compile(spec)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *DataDefinition) Ref() types.Ref    { return d.ref }
func (d *DataDefinition) Plugin() string    { return d.ref.Plugin }
func (d *DataDefinition) Name() string      { return d.ref.Name }
func (d *DataDefinition) String() string    { return d.ref.String() }
func (d *DataDefinition) Flags() Flags      { return d.flags }
func (d *DataDefinition) Columns() []Column { return slices.Clone(d.columns) }

// TableName is the storage table of the definition.
func (d *DataDefinition) TableName() string {
	return d.ref.Plugin + "_" + d.ref.Name
}

// IdentifierExpression returns the display expression, possibly empty.
func (d *DataDefinition) IdentifierExpression() string { return d.identifier }

// Fields returns the fields in declaration order.
func (d *DataDefinition) Fields() []*FieldDefinition {
	return slices.Clone(d.fields)
}

// Field returns the named field or a *FieldNotFoundError.
func (d *DataDefinition) Field(name string) (*FieldDefinition, error) {
	f, ok := d.byName[name]
	if !ok {
		return nil, &FieldNotFoundError{Definition: d.ref, Field: name}
	}
	return f, nil
}

// HasField reports whether the definition declares name.
func (d *DataDefinition) HasField(name string) bool {
	_, ok := d.byName[name]
	return ok
}

// Accessor returns the row accessor of a persisted or system field.
func (d *DataDefinition) Accessor(name string) (Accessor, bool) {
	a, ok := d.accessors[name]
	return a, ok
}

// NewRow returns an empty row sized to the column layout.
func (d *DataDefinition) NewRow() *Row {
	return &Row{Slots: make([]any, len(d.columns))}
}

// Prioritizable reports whether the definition has a priority field.
func (d *DataDefinition) Prioritizable() bool { return d.priority != nil }

// PriorityField returns the priority field, or nil.
func (d *DataDefinition) PriorityField() *FieldDefinition { return d.priority }

// PriorityScope returns the name of the field grouping siblings, or "".
func (d *DataDefinition) PriorityScope() string {
	if d.priority == nil {
		return ""
	}
	if p, ok := d.priority.typ.(types.Priority); ok {
		return p.Scope
	}
	return ""
}

// Hooks returns the hooks registered for (t, p) in registration order.
func (d *DataDefinition) Hooks(t HookType, p Phase) []Hook {
	return d.hooks[hookKey{t, p}]
}

// EntityValidators returns the entity-level validators.
func (d *DataDefinition) EntityValidators() []EntityValidator {
	return d.validators
}

// Filter returns a predefined filter by name.
func (d *DataDefinition) Filter(name string) (PredefinedFilter, bool) {
	f, ok := d.filters[name]
	return f, ok
}

// Relations returns the relation fields in declaration order.
func (d *DataDefinition) Relations() []*FieldDefinition {
	var out []*FieldDefinition
	for _, f := range d.fields {
		if _, ok := f.Relation(); ok {
			out = append(out, f)
		}
	}
	return out
}
