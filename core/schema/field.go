package schema

import "github.com/artpar/entitycore/core/validation"

// Field defines one field of a model.
type Field struct {
	Name string `yaml:"name"`

	// Type is a kind registered in the type registry (string, integer,
	// belongs_to, tree, ...).
	Type string `yaml:"type"`

	// Required indicates this field must hold a value after save.
	Required bool `yaml:"required,omitempty"`

	// Unique indicates no two entities may share the value.
	Unique bool `yaml:"unique,omitempty"`

	// ReadOnly fields are written on create and ignored on update.
	ReadOnly bool `yaml:"read_only,omitempty"`

	// Default value applied on create when the field is absent.
	Default any `yaml:"default,omitempty"`

	// Relation parameters.
	To          string `yaml:"to,omitempty"`
	JoinField   string `yaml:"join_field,omitempty"`
	ParentField string `yaml:"parent_field,omitempty"`
	Cascade     string `yaml:"cascade,omitempty"`
	Lazy        bool   `yaml:"lazy,omitempty"`

	// Copy overrides whether the value is carried by a copy. For has_many
	// it enables copying the children.
	Copy *bool `yaml:"copy,omitempty"`

	// String and decimal parameters.
	MaxLength int `yaml:"max_length,omitempty"`
	Scale     int `yaml:"scale,omitempty"`

	// Scope names the belongs_to field partitioning a priority.
	Scope string `yaml:"scope,omitempty"`

	// Enum parameters.
	Values   []string `yaml:"values,omitempty"`
	Inactive []string `yaml:"inactive,omitempty"`

	// Constraints are built-in validators.
	Constraints []validation.Constraint `yaml:"constraints,omitempty"`

	// Validators name field validators registered in the catalog.
	Validators []string `yaml:"validators,omitempty"`
}
