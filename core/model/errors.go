package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/entitycore/core/types"
)

// Sentinel errors. Use errors.Is to test for them.
var (
	// ErrSchemaMismatch marks programming errors: unknown fields, unknown
	// field types, missing schema attributes.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrNotFound is returned by gateways when no row has the given id.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidTreeStructure marks a tree with zero or several roots or
	// with rows unreachable from the root.
	ErrInvalidTreeStructure = errors.New("invalid tree structure")

	// ErrPriorityCorrupt marks a sibling set whose priorities are not 1..N.
	ErrPriorityCorrupt = errors.New("priority sequence is not dense")

	// ErrOperationNotAllowed is returned when a definition flag forbids
	// the operation.
	ErrOperationNotAllowed = errors.New("operation not allowed")

	// ErrInvalidPosition is returned for absolute moves below position 1.
	ErrInvalidPosition = errors.New("position must be at least 1")
)

// FieldNotFoundError reports access to a field the definition does not
// declare.
type FieldNotFoundError struct {
	Definition types.Ref
	Field      string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("field %q not found in %s", e.Field, e.Definition)
}

func (e *FieldNotFoundError) Unwrap() error { return ErrSchemaMismatch }

// SchemaError reports an invalid data definition.
type SchemaError struct {
	Definition types.Ref
	Reason     string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %s: %s", e.Definition, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchemaMismatch }

// StructuralError reports corrupt persisted data. Err is one of
// ErrInvalidTreeStructure or ErrPriorityCorrupt.
type StructuralError struct {
	Definition types.Ref
	Err        error
	Detail     string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Definition, e.Err, e.Detail)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// PersistenceError wraps a gateway failure. The core propagates it without
// retrying.
type PersistenceError struct {
	Op         string
	Definition types.Ref
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Definition, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CopyError reports a duplicate that failed validation. Entity carries the
// field and global errors that made it invalid.
type CopyError struct {
	SourceID string
	Entity   *Entity
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copy of %s %q is invalid: %s", e.Entity.Definition().Ref(), e.SourceID, e.Entity.ErrorSummary())
}

// AbortedError reports an operation vetoed by a hook.
type AbortedError struct {
	Hook   HookType
	Entity *Entity
}

func (e *AbortedError) Error() string {
	msg := fmt.Sprintf("%s hook aborted operation on %s", e.Hook, e.Entity.Definition().Ref())
	if s := e.Entity.ErrorSummary(); s != "" {
		msg += ": " + s
	}
	return msg
}

// Message is a translatable error message: a key plus positional args.
type Message struct {
	Key  string
	Args []string
}

func (m Message) String() string {
	if len(m.Args) == 0 {
		return m.Key
	}
	return m.Key + " [" + strings.Join(m.Args, ", ") + "]"
}
