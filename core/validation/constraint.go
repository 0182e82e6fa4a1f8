package validation

import (
	"context"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/artpar/entitycore/core/model"
)

// Constraint declares a built-in field validator.
type Constraint struct {
	// Type is the constraint type (min, max, min_length, max_length, pattern, etc.)
	Type ConstraintType `yaml:"type" json:"type"`

	// Value is the constraint parameter (number, regex pattern, etc.)
	Value any `yaml:"value" json:"value"`

	// Message overrides the default message key (optional).
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// ConstraintType identifies the type of constraint.
type ConstraintType string

const (
	// Numeric constraints
	ConstraintMin   ConstraintType = "min"   // Minimum numeric value
	ConstraintMax   ConstraintType = "max"   // Maximum numeric value
	ConstraintScale ConstraintType = "scale" // Maximum fraction digits

	// String constraints
	ConstraintMinLength ConstraintType = "min_length" // Minimum string length
	ConstraintMaxLength ConstraintType = "max_length" // Maximum string length
	ConstraintPattern   ConstraintType = "pattern"    // Regex pattern match
	ConstraintEmail     ConstraintType = "email"      // RFC 5322 address
	ConstraintURL       ConstraintType = "url"        // Absolute URL

	// Custom constraints
	ConstraintNotEmpty ConstraintType = "not_empty" // String must not be empty/whitespace
	ConstraintOneOf    ConstraintType = "one_of"    // Value must be one of list (for non-enum validation)
)

// Message keys recorded by the built-in validators.
const (
	MsgMissing       = "validate.field.error.missing"
	MsgDuplicated    = "validate.field.error.duplicated"
	MsgBelowMin      = "validate.field.error.belowMin"
	MsgAboveMax      = "validate.field.error.aboveMax"
	MsgTooShort      = "validate.field.error.tooShort"
	MsgTooLong       = "validate.field.error.tooLong"
	MsgInvalidFormat = "validate.field.error.invalidFormat"
	MsgInvalidEmail  = "validate.field.error.invalidEmail"
	MsgInvalidURL    = "validate.field.error.invalidUrl"
	MsgEmpty         = "validate.field.error.empty"
	MsgNotAllowed    = "validate.field.error.notAllowed"
	MsgInvalidScale  = "validate.field.error.invalidScale"
)

// Predicate is a pure check over a converted, non-nil value. It returns the
// message args on failure.
type Predicate func(value any) (ok bool, args []string)

type constraintValidator struct {
	key   string
	check Predicate
}

// Validate records an error when the new value fails the check. Nil values
// pass; required-ness is checked separately.
func (v constraintValidator) Validate(_ context.Context, field *model.FieldDefinition, e *model.Entity, _, newValue any) bool {
	if newValue == nil {
		return true
	}
	ok, args := v.check(newValue)
	if !ok {
		e.AddError(field.Name(), v.key, args...)
	}
	return ok
}

// NewValidator builds a field validator from a constraint declaration.
func NewValidator(c Constraint) (model.FieldValidator, error) {
	key, chk, err := buildCheck(c)
	if err != nil {
		return nil, fmt.Errorf("constraint %s: %w", c.Type, err)
	}
	if c.Message != "" {
		key = c.Message
	}
	return constraintValidator{key: key, check: chk}, nil
}

func buildCheck(c Constraint) (string, Predicate, error) {
	switch c.Type {
	case ConstraintMin, ConstraintMax:
		bound, err := toFloat64(c.Value)
		if err != nil {
			return "", nil, err
		}
		arg := strconv.FormatFloat(bound, 'f', -1, 64)
		if c.Type == ConstraintMin {
			return MsgBelowMin, numeric(func(f float64) bool { return f >= bound }, arg), nil
		}
		return MsgAboveMax, numeric(func(f float64) bool { return f <= bound }, arg), nil

	case ConstraintScale:
		scale, err := toInt(c.Value)
		if err != nil {
			return "", nil, err
		}
		return MsgInvalidScale, Scale(scale), nil

	case ConstraintMinLength, ConstraintMaxLength:
		n, err := toInt(c.Value)
		if err != nil {
			return "", nil, err
		}
		if c.Type == ConstraintMinLength {
			return MsgTooShort, Length(n, -1), nil
		}
		return MsgTooLong, Length(-1, n), nil

	case ConstraintPattern:
		pattern, ok := c.Value.(string)
		if !ok {
			return "", nil, fmt.Errorf("pattern must be a string")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return "", nil, err
		}
		return MsgInvalidFormat, Regex(re), nil

	case ConstraintEmail:
		return MsgInvalidEmail, func(v any) (bool, []string) {
			s, ok := v.(string)
			if !ok {
				return true, nil
			}
			_, err := mail.ParseAddress(s)
			return err == nil, nil
		}, nil

	case ConstraintURL:
		return MsgInvalidURL, func(v any) (bool, []string) {
			s, ok := v.(string)
			if !ok {
				return true, nil
			}
			u, err := url.Parse(s)
			return err == nil && u.Scheme != "" && u.Host != "", nil
		}, nil

	case ConstraintNotEmpty:
		return MsgEmpty, NotEmpty(), nil

	case ConstraintOneOf:
		allowed, err := toStrings(c.Value)
		if err != nil {
			return "", nil, err
		}
		return MsgNotAllowed, OneOf(allowed...), nil
	}
	return "", nil, fmt.Errorf("unknown constraint type")
}

func numeric(ok func(float64) bool, bound string) Predicate {
	return func(v any) (bool, []string) {
		f, err := toFloat64(v)
		if err != nil {
			return true, nil // Can't validate non-numeric, skip
		}
		if !ok(f) {
			return false, []string{bound}
		}
		return true, nil
	}
}

// Length checks rune length against inclusive bounds; negative disables a
// bound.
func Length(minLen, maxLen int) Predicate {
	return func(v any) (bool, []string) {
		s, ok := v.(string)
		if !ok {
			return true, nil
		}
		n := utf8.RuneCountInString(s)
		if minLen >= 0 && n < minLen {
			return false, []string{strconv.Itoa(minLen)}
		}
		if maxLen >= 0 && n > maxLen {
			return false, []string{strconv.Itoa(maxLen)}
		}
		return true, nil
	}
}

// Range checks numeric values against inclusive bounds. The failure args are
// both bounds.
func Range(lo, hi float64) Predicate {
	args := []string{strconv.FormatFloat(lo, 'f', -1, 64), strconv.FormatFloat(hi, 'f', -1, 64)}
	return func(v any) (bool, []string) {
		f, err := toFloat64(v)
		if err != nil {
			return true, nil
		}
		if f < lo || f > hi {
			return false, args
		}
		return true, nil
	}
}

// NotEmpty rejects strings that are empty or whitespace.
func NotEmpty() Predicate {
	return func(v any) (bool, []string) {
		s, ok := v.(string)
		return !ok || strings.TrimSpace(s) != "", nil
	}
}

// OneOf accepts values whose text form is listed.
func OneOf(allowed ...string) Predicate {
	return func(v any) (bool, []string) {
		s := fmt.Sprint(v)
		for _, a := range allowed {
			if a == s {
				return true, nil
			}
		}
		return false, []string{strings.Join(allowed, ", ")}
	}
}

// Regex checks that string values match re.
func Regex(re *regexp.Regexp) Predicate {
	return func(v any) (bool, []string) {
		s, ok := v.(string)
		if !ok {
			return true, nil
		}
		if !re.MatchString(s) {
			return false, []string{re.String()}
		}
		return true, nil
	}
}

// Scale checks that decimals carry at most n fraction digits.
func Scale(n int) Predicate {
	return func(v any) (bool, []string) {
		f, ok := v.(float64)
		if !ok {
			return true, nil
		}
		shifted := f * math.Pow10(n)
		if math.Abs(shifted-math.Round(shifted)) > 1e-9*math.Max(1, math.Abs(shifted)) {
			return false, []string{strconv.Itoa(n)}
		}
		return true, nil
	}
}

// Custom wraps a boolean check as a field validator recording key.
func Custom(key string, chk func(value any) bool) model.FieldValidator {
	return constraintValidator{key: key, check: func(v any) (bool, []string) { return chk(v), nil }}
}

// toFloat64 converts various numeric types to float64.
func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}

// toInt converts various types to int.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", v)
	}
}

func toStrings(v any) ([]string, error) {
	switch vals := v.(type) {
	case []string:
		return vals, nil
	case []any:
		out := make([]string, len(vals))
		for i, x := range vals {
			out[i] = fmt.Sprint(x)
		}
		return out, nil
	}
	return nil, fmt.Errorf("one_of requires a list, got %T", v)
}

// With wraps a predicate as a field validator recording key.
func With(key string, p Predicate) model.FieldValidator {
	return constraintValidator{key: key, check: p}
}
