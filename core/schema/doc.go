/*
Package schema loads data definitions from YAML.

Each file declares one model. Fields are listed in order; the order fixes
the column layout of the persisted row.

# Model Definition

	plugin: tech
	model: operation
	identifier: 'code + " " + name'

	flags:
	  auditable: true

	fields:
	  - { name: name, type: string, required: true, max_length: 100 }
	  - { name: code, type: string, unique: true,
	      constraints: [{ type: pattern, value: "^[A-Z]{2}[0-9]+$" }] }
	  - { name: technology, type: belongs_to, to: technology, lazy: true }
	  - { name: position, type: priority, scope: technology }
	  - { name: status, type: enum, values: [draft, active, retired], inactive: [retired], default: draft }
	  - { name: tools, type: many_to_many, to: tools.tool }

	hooks:
	  - { type: save, phase: before, name: tech.stamp }

	validators: [tech.timing]

	filters:
	  - name: active
	    restrictions: [{ field: status, op: eq, value: active }]
	    orders: [{ field: position }]

# Field Types

Built-in kinds:

  - boolean, integer, decimal (scale), string (max_length), text, date, datetime
  - enum: requires values; inactive values stay readable but are not offered
  - password: hashed on write, rendered masked
  - priority: ordering within the optional scope field
  - belongs_to: reference to another model (to, lazy, copy)
  - has_many: children pointing back through join_field (cascade, copy)
  - tree: has_many whose children nest through parent_field
  - many_to_many: set of references stored on the owner

Relation targets without a plugin prefix resolve inside the declaring
plugin. Plugins can add kinds to the type registry before compiling.

# Catalog

Hooks and validators are Go code. Register them in a Catalog under the
names the YAML uses:

	cat := schema.NewCatalog()
	cat.RegisterHook("tech.stamp", model.HookFunc(stamp))

# Parsing

	m, err := schema.ParseFile("schemas/operation.yaml")
	models, err := schema.ParseDir("schemas/")
	defs, err := schema.CompileAll(models, typeRegistry, cat)

Models are validated on parse. Compile resolves types, hooks and
validators and reports failures as schema mismatches.
*/
package schema
