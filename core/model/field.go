package model

import (
	"slices"

	"github.com/artpar/entitycore/core/types"
)

// FieldSpec declares one field before compilation.
type FieldSpec struct {
	Name       string
	Type       types.FieldType
	Required   bool
	Unique     bool
	ReadOnly   bool
	Default    any
	Validators []FieldValidator
}

// FieldDefinition is a compiled, immutable field.
type FieldDefinition struct {
	name         string
	typ          types.FieldType
	required     bool
	unique       bool
	readOnly     bool
	defaultValue any
	validators   []FieldValidator
	column       int
}

func (f *FieldDefinition) Name() string          { return f.name }
func (f *FieldDefinition) Type() types.FieldType { return f.typ }
func (f *FieldDefinition) Kind() types.Kind      { return f.typ.Kind() }
func (f *FieldDefinition) Required() bool        { return f.required }
func (f *FieldDefinition) Unique() bool          { return f.unique }
func (f *FieldDefinition) ReadOnly() bool        { return f.readOnly }
func (f *FieldDefinition) Default() any          { return f.defaultValue }

// Validators returns the field validators in declaration order.
func (f *FieldDefinition) Validators() []FieldValidator {
	return slices.Clone(f.validators)
}

// Persistent reports whether the field occupies a column of the row.
func (f *FieldDefinition) Persistent() bool { return f.column >= 0 }

// Relation returns the relation type of a relation field.
func (f *FieldDefinition) Relation() (types.RelationType, bool) {
	r, ok := f.typ.(types.RelationType)
	return r, ok
}

// persistentKind reports whether values of kind k are stored on the row.
// Has-many and tree fields live on the other side of the relation.
func persistentKind(k types.Kind) bool {
	return k != types.KindHasMany && k != types.KindTree
}
