package types

import (
	"fmt"
	"slices"

	"golang.org/x/text/language"
)

// Translator resolves message keys for a locale. Translate returns the key
// itself when no message is known.
type Translator interface {
	Translate(locale language.Tag, key string, args ...string) string
}

// Option is one selectable enum value with its translated label.
type Option struct {
	Value string
	Label string
}

// Enum holds one value of a fixed list. Inactive values remain readable but
// are not offered by ActiveValues.
type Enum struct {
	values     []string
	inactive   map[string]bool
	labelKey   string
	translator Translator
}

// NewEnum builds an enum type. labelKey is the message key prefix used for
// labels ("<labelKey>.<value>"); translator may be nil.
func NewEnum(values, inactive []string, labelKey string, translator Translator) (*Enum, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("enum must declare at least one value")
	}
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			return nil, fmt.Errorf("duplicate enum value %q", v)
		}
		seen[v] = true
	}
	off := make(map[string]bool, len(inactive))
	for _, v := range inactive {
		if !seen[v] {
			return nil, fmt.Errorf("inactive enum value %q is not declared", v)
		}
		off[v] = true
	}
	return &Enum{
		values:     slices.Clone(values),
		inactive:   off,
		labelKey:   labelKey,
		translator: translator,
	}, nil
}

func (*Enum) Kind() Kind     { return KindEnum }
func (*Enum) Copyable() bool { return true }

// Contains reports whether v is a declared value.
func (e *Enum) Contains(v string) bool {
	return slices.Contains(e.values, v)
}

// IsActive reports whether v may be chosen on write.
func (e *Enum) IsActive(v string) bool {
	return e.Contains(v) && !e.inactive[v]
}

func (e *Enum) ToObject(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprint(value)
	}
	if s == "" {
		return nil, nil
	}
	if !e.Contains(s) {
		return nil, conversionError(MsgInvalidDictionaryItem, s)
	}
	return s, nil
}

func (e *Enum) ToString(value any, locale language.Tag) string {
	s, ok := value.(string)
	if !ok || s == "" {
		return ""
	}
	return e.label(s, locale)
}

// FromString accepts either a raw value or its label in the given locale.
func (e *Enum) FromString(text string, locale language.Tag) (any, error) {
	if text == "" {
		return nil, nil
	}
	if e.Contains(text) {
		return text, nil
	}
	for _, v := range e.values {
		if e.label(v, locale) == text {
			return v, nil
		}
	}
	return nil, conversionError(MsgInvalidDictionaryItem, text)
}

// ActiveValues lists the values that may be chosen on write, in
// declaration order.
func (e *Enum) ActiveValues(locale language.Tag) []Option {
	out := make([]Option, 0, len(e.values))
	for _, v := range e.values {
		if !e.inactive[v] {
			out = append(out, Option{Value: v, Label: e.label(v, locale)})
		}
	}
	return out
}

// Values lists every declared value, active or not.
func (e *Enum) Values(locale language.Tag) []Option {
	out := make([]Option, 0, len(e.values))
	for _, v := range e.values {
		out = append(out, Option{Value: v, Label: e.label(v, locale)})
	}
	return out
}

func (e *Enum) label(v string, locale language.Tag) string {
	if e.translator == nil || e.labelKey == "" {
		return v
	}
	key := e.labelKey + "." + v
	if msg := e.translator.Translate(locale, key); msg != key {
		return msg
	}
	return v
}
