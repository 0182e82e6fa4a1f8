package schema

// Model is the YAML form of one data definition.
type Model struct {
	// Plugin owns the definition; unqualified relation targets resolve
	// inside it.
	Plugin string `yaml:"plugin"`

	// Name is the model name, unique within the plugin.
	Name string `yaml:"model"`

	// Identifier is an expression rendering the entity for display.
	Identifier string `yaml:"identifier,omitempty"`

	Flags Flags `yaml:"flags,omitempty"`

	// Fields are declared in order; the order fixes the column layout.
	Fields []Field `yaml:"fields"`

	// Hooks name lifecycle hooks registered in the catalog.
	Hooks []HookRef `yaml:"hooks,omitempty"`

	// Validators name entity validators registered in the catalog.
	Validators []string `yaml:"validators,omitempty"`

	Filters []Filter `yaml:"filters,omitempty"`

	Meta Meta `yaml:"meta,omitempty"`
}

// Flags toggles operations. Unset flags take the defaults: creatable,
// updatable and deletable on; auditable and activable off.
type Flags struct {
	Creatable *bool `yaml:"creatable,omitempty"`
	Updatable *bool `yaml:"updatable,omitempty"`
	Deletable *bool `yaml:"deletable,omitempty"`
	Auditable bool  `yaml:"auditable,omitempty"`
	Activable bool  `yaml:"activable,omitempty"`
}

// Meta contains optional metadata.
type Meta struct {
	// Description for documentation.
	Description string `yaml:"description,omitempty"`

	// Version of the model definition.
	Version string `yaml:"version,omitempty"`
}

// HookRef attaches a catalog hook to a lifecycle point.
type HookRef struct {
	Type  string `yaml:"type"`
	Phase string `yaml:"phase"`
	Name  string `yaml:"name"`
}

// Filter is a named restriction template.
type Filter struct {
	Name         string        `yaml:"name"`
	Restrictions []Restriction `yaml:"restrictions,omitempty"`
	Orders       []Order       `yaml:"orders,omitempty"`
}

// Restriction is the YAML form of model.Restriction.
type Restriction struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value any    `yaml:"value,omitempty"`
	Upper any    `yaml:"upper,omitempty"`
}

// Order is the YAML form of model.Order.
type Order struct {
	Field string `yaml:"field"`
	Desc  bool   `yaml:"desc,omitempty"`
}
