// Package types defines the field type registry: the conversion strategies
// that turn external values into canonical in-memory values and back.
//
// Every field of a data definition carries exactly one FieldType. Scalar
// types (boolean, integer, decimal, string, text, date, datetime, enum,
// password, priority) convert values themselves. Relation types
// (belongs_to, has_many, tree, many_to_many) only normalise identifiers;
// graph traversal is done by the mapping service.
//
// Field types are immutable and safe for concurrent use once built.
package types

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Kind is the variant tag of a field type.
type Kind string

const (
	KindBoolean    Kind = "boolean"
	KindInteger    Kind = "integer"
	KindDecimal    Kind = "decimal"
	KindString     Kind = "string"
	KindText       Kind = "text"
	KindDate       Kind = "date"
	KindDateTime   Kind = "datetime"
	KindEnum       Kind = "enum"
	KindPassword   Kind = "password"
	KindPriority   Kind = "priority"
	KindBelongsTo  Kind = "belongs_to"
	KindHasMany    Kind = "has_many"
	KindTree       Kind = "tree"
	KindManyToMany Kind = "many_to_many"
)

// IsRelation reports whether values of this kind point at other entities.
func (k Kind) IsRelation() bool {
	switch k {
	case KindBelongsTo, KindHasMany, KindTree, KindManyToMany:
		return true
	}
	return false
}

// IsCollection reports whether the kind holds a lazily loaded collection.
func (k Kind) IsCollection() bool {
	return k == KindHasMany || k == KindTree || k == KindManyToMany
}

// FieldType is a conversion strategy for one field's value domain.
type FieldType interface {
	// Kind reports the canonical value class.
	Kind() Kind

	// ToObject converts an external value into the canonical value.
	// It returns (nil, nil) when the value should be treated as null and
	// a *ConversionError when the value cannot be coerced.
	ToObject(value any) (any, error)

	// ToString renders a canonical value for display.
	ToString(value any, locale language.Tag) string

	// FromString parses display text into the canonical value.
	FromString(text string, locale language.Tag) (any, error)

	// Copyable reports whether the field is duplicated on entity copy.
	Copyable() bool
}

// Ref is a plugin-qualified data definition name.
type Ref struct {
	Plugin string
	Name   string
}

// String returns "plugin.name".
func (r Ref) String() string {
	return r.Plugin + "." + r.Name
}

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool {
	return r.Plugin == "" && r.Name == ""
}

// ParseRef parses "plugin.name". A bare "name" takes defaultPlugin.
func ParseRef(s, defaultPlugin string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, errors.New("empty reference")
	}
	plugin, name, ok := strings.Cut(s, ".")
	if !ok {
		if defaultPlugin == "" {
			return Ref{}, fmt.Errorf("reference %q has no plugin", s)
		}
		return Ref{Plugin: defaultPlugin, Name: s}, nil
	}
	if plugin == "" || name == "" || strings.Contains(name, ".") {
		return Ref{}, fmt.Errorf("malformed reference %q", s)
	}
	return Ref{Plugin: plugin, Name: name}, nil
}

// ConversionError is returned by ToObject and FromString when a value cannot
// be coerced. Key is a message key resolved by the translator; Args are its
// positional arguments.
type ConversionError struct {
	Key  string
	Args []string
}

// Error returns the message key and arguments.
func (e *ConversionError) Error() string {
	if len(e.Args) == 0 {
		return e.Key
	}
	return e.Key + " " + strings.Join(e.Args, ", ")
}

// Message keys produced by the built-in types.
const (
	MsgInvalidNumericFormat  = "validate.field.error.invalidNumericFormat"
	MsgOutOfRange            = "validate.field.error.outOfRange"
	MsgInvalidScale          = "validate.field.error.invalidScale"
	MsgStringTooLong         = "validate.field.error.stringIsTooLong"
	MsgInvalidDateFormat     = "validate.field.error.invalidDateFormat"
	MsgInvalidDateTimeFormat = "validate.field.error.invalidDateTimeFormat"
	MsgInvalidDictionaryItem = "validate.field.error.invalidDictionaryItem"
	MsgInvalidReference      = "validate.field.error.invalidReference"
	MsgWrongType             = "validate.field.error.wrongType"
)

func conversionError(key string, args ...string) error {
	return &ConversionError{Key: key, Args: args}
}
