package model

import "context"

// HookType names the lifecycle point a hook is attached to.
type HookType string

const (
	HookView   HookType = "view"
	HookCreate HookType = "create"
	HookUpdate HookType = "update"
	HookSave   HookType = "save"
	HookDelete HookType = "delete"
	HookCopy   HookType = "copy"
)

// Phase orders a hook relative to persistence.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// Hook is called with the entity at its lifecycle point. Returning false
// aborts the operation; the hook may record errors on the entity first.
type Hook interface {
	Call(ctx context.Context, e *Entity) bool
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, e *Entity) bool

func (f HookFunc) Call(ctx context.Context, e *Entity) bool { return f(ctx, e) }

// FieldValidator checks one field. It receives the value stored before the
// operation (nil for new entities) and the value being written, and records
// errors on e when it returns false.
type FieldValidator interface {
	Validate(ctx context.Context, field *FieldDefinition, e *Entity, oldValue, newValue any) bool
}

// FieldValidatorFunc adapts a function to FieldValidator.
type FieldValidatorFunc func(ctx context.Context, field *FieldDefinition, e *Entity, oldValue, newValue any) bool

func (f FieldValidatorFunc) Validate(ctx context.Context, field *FieldDefinition, e *Entity, oldValue, newValue any) bool {
	return f(ctx, field, e, oldValue, newValue)
}

// EntityValidator checks a whole entity.
type EntityValidator interface {
	Validate(ctx context.Context, e *Entity) bool
}

// EntityValidatorFunc adapts a function to EntityValidator.
type EntityValidatorFunc func(ctx context.Context, e *Entity) bool

func (f EntityValidatorFunc) Validate(ctx context.Context, e *Entity) bool { return f(ctx, e) }

// HookSpec attaches a hook to a definition.
type HookSpec struct {
	Type  HookType
	Phase Phase
	Name  string
	Hook  Hook
}

type hookKey struct {
	t HookType
	p Phase
}

// validHook reports whether t may run in phase p. View and copy hooks only
// run before the operation.
func validHook(t HookType, p Phase) bool {
	switch t {
	case HookView, HookCopy:
		return p == PhaseBefore
	case HookCreate, HookUpdate, HookSave, HookDelete:
		return p == PhaseBefore || p == PhaseAfter
	}
	return false
}
