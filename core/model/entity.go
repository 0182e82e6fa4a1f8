package model

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/artpar/entitycore/core/types"
)

// Loader fetches a fully converted entity by id. Proxies call it on first
// access to a non-id field.
type Loader interface {
	Get(ctx context.Context, def *DataDefinition, id string) (*Entity, error)
}

// Finder runs criteria against a definition. Lazy collections call it on
// first access.
type Finder interface {
	Find(ctx context.Context, def *DataDefinition, c *Criteria) (SearchResult, error)
}

// Collection is a lazily loaded, read-only sequence of entities.
type Collection interface {
	Len(ctx context.Context) (int, error)
	At(ctx context.Context, i int) (*Entity, error)
	All(ctx context.Context) ([]*Entity, error)
}

// Entity is a generic record of one data definition.
//
// An entity is either loaded, holding its field values, or an unloaded
// proxy holding only its id and a loader. ID never loads a proxy; every
// other accessor loads it once and then behaves like a loaded entity.
//
// Entities are not safe for concurrent mutation.
type Entity struct {
	def    *DataDefinition
	id     string
	loader Loader
	values map[string]any
	errors map[string][]Message
	global []Message
}

// New returns an empty, unpersisted entity.
func New(def *DataDefinition) *Entity {
	return &Entity{def: def, values: make(map[string]any)}
}

// NewWithID returns an empty entity carrying id.
func NewWithID(def *DataDefinition, id string) *Entity {
	e := New(def)
	e.id = id
	return e
}

// NewProxy returns an unloaded entity that fetches itself through loader.
func NewProxy(def *DataDefinition, id string, loader Loader) *Entity {
	return &Entity{def: def, id: id, loader: loader}
}

// ID returns the id, or "" for an unpersisted entity. It never loads.
func (e *Entity) ID() string {
	if e == nil {
		return ""
	}
	return e.id
}

// SetID sets the identity.
func (e *Entity) SetID(id string) { e.id = id }

// Definition returns the entity's data definition.
func (e *Entity) Definition() *DataDefinition { return e.def }

// IsProxy reports whether the entity is still waiting to be loaded.
func (e *Entity) IsProxy() bool { return e.loader != nil }

func (e *Entity) ensureLoaded(ctx context.Context) error {
	if e.loader == nil {
		return nil
	}
	loaded, err := e.loader.Get(ctx, e.def, e.id)
	if err != nil {
		return fmt.Errorf("load %s %q: %w", e.def.Ref(), e.id, err)
	}
	e.values = loaded.values
	e.errors = loaded.errors
	e.global = loaded.global
	if e.values == nil {
		e.values = make(map[string]any)
	}
	e.loader = nil
	return nil
}

// Field returns the value of a declared field; nil when unset.
func (e *Entity) Field(ctx context.Context, name string) (any, error) {
	if name == IDField {
		return e.id, nil
	}
	if _, err := e.def.Field(name); err != nil {
		return nil, err
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return e.values[name], nil
}

// SetField stores a value for a declared field. Conversion happens on save;
// values of the wrong type are reported there as field errors.
func (e *Entity) SetField(ctx context.Context, name string, value any) error {
	if _, err := e.def.Field(name); err != nil {
		return err
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return err
	}
	e.values[name] = value
	return nil
}

// Unset removes a field value so a save leaves the stored value untouched.
func (e *Entity) Unset(ctx context.Context, name string) error {
	if _, err := e.def.Field(name); err != nil {
		return err
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return err
	}
	delete(e.values, name)
	return nil
}

// IsSet reports whether a value is present for name.
func (e *Entity) IsSet(ctx context.Context, name string) (bool, error) {
	if _, err := e.def.Field(name); err != nil {
		return false, err
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return false, err
	}
	_, ok := e.values[name]
	return ok, nil
}

// Values returns a copy of the present field values.
func (e *Entity) Values(ctx context.Context) (map[string]any, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return maps.Clone(e.values), nil
}

// StringField returns a field rendered as text. Values of the wrong type are
// formatted best effort.
func (e *Entity) StringField(ctx context.Context, name string) (string, error) {
	v, err := e.Field(ctx, name)
	if err != nil || v == nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// IntField returns an integer field. Values that do not convert read as 0.
func (e *Entity) IntField(ctx context.Context, name string) (int64, error) {
	v, err := e.Field(ctx, name)
	if err != nil || v == nil {
		return 0, err
	}
	n, cerr := types.Integer{}.ToObject(v)
	if cerr != nil || n == nil {
		return 0, nil
	}
	return n.(int64), nil
}

// DecimalField returns a decimal field. Values that do not convert read as 0.
func (e *Entity) DecimalField(ctx context.Context, name string) (float64, error) {
	v, err := e.Field(ctx, name)
	if err != nil || v == nil {
		return 0, err
	}
	f, cerr := types.Decimal{}.ToObject(v)
	if cerr != nil || f == nil {
		return 0, nil
	}
	return f.(float64), nil
}

// BoolField returns a boolean field.
func (e *Entity) BoolField(ctx context.Context, name string) (bool, error) {
	v, err := e.Field(ctx, name)
	if err != nil || v == nil {
		return false, err
	}
	b, _ := types.Boolean{}.ToObject(v)
	bb, _ := b.(bool)
	return bb, nil
}

// BelongsToField returns the referenced entity. It returns nil when the
// field is unset or holds a bare id; use ReferenceID for those.
func (e *Entity) BelongsToField(ctx context.Context, name string) (*Entity, error) {
	v, err := e.Field(ctx, name)
	if err != nil || v == nil {
		return nil, err
	}
	if ref, ok := v.(*Entity); ok {
		return ref, nil
	}
	return nil, nil
}

// ReferenceID returns the id held by a belongs_to field without loading the
// referenced entity.
func (e *Entity) ReferenceID(ctx context.Context, name string) (string, error) {
	v, err := e.Field(ctx, name)
	if err != nil {
		return "", err
	}
	return types.ReferenceID(v), nil
}

// CollectionField returns a has_many, tree or many_to_many collection.
func (e *Entity) CollectionField(ctx context.Context, name string) (Collection, error) {
	v, err := e.Field(ctx, name)
	if err != nil || v == nil {
		return nil, err
	}
	c, ok := v.(Collection)
	if !ok {
		return nil, fmt.Errorf("field %q of %s holds %T, not a collection", name, e.def.Ref(), v)
	}
	return c, nil
}

// AddError records a field error.
func (e *Entity) AddError(field, key string, args ...string) {
	if e.errors == nil {
		e.errors = make(map[string][]Message)
	}
	e.errors[field] = append(e.errors[field], Message{Key: key, Args: args})
}

// AddGlobalError records an error not tied to one field.
func (e *Entity) AddGlobalError(key string, args ...string) {
	e.global = append(e.global, Message{Key: key, Args: args})
}

// Errors returns the field errors.
func (e *Entity) Errors() map[string][]Message {
	out := make(map[string][]Message, len(e.errors))
	for k, v := range e.errors {
		out[k] = append([]Message(nil), v...)
	}
	return out
}

// FieldErrors returns the errors recorded for one field.
func (e *Entity) FieldErrors(field string) []Message {
	return append([]Message(nil), e.errors[field]...)
}

// GlobalErrors returns the entity-level errors.
func (e *Entity) GlobalErrors() []Message {
	return append([]Message(nil), e.global...)
}

// IsValid reports whether no errors have been recorded.
func (e *Entity) IsValid() bool {
	return len(e.errors) == 0 && len(e.global) == 0
}

// ClearErrors drops every recorded error.
func (e *Entity) ClearErrors() {
	e.errors = nil
	e.global = nil
}

// ErrorSummary renders the recorded errors on one line, fields sorted.
func (e *Entity) ErrorSummary() string {
	var parts []string
	fields := make([]string, 0, len(e.errors))
	for f := range e.errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		for _, m := range e.errors[f] {
			parts = append(parts, f+": "+m.String())
		}
	}
	for _, m := range e.global {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, "; ")
}

// Clone returns a loaded copy with the same id and values and no errors.
// Nested entities and collections are shared.
func (e *Entity) Clone(ctx context.Context) (*Entity, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return &Entity{def: e.def, id: e.id, values: maps.Clone(e.values)}, nil
}

// String identifies the entity without loading it.
func (e *Entity) String() string {
	if e.id == "" {
		return e.def.Ref().String() + "[new]"
	}
	return e.def.Ref().String() + "[" + e.id + "]"
}
