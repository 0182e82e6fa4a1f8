package memory

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/artpar/entitycore/core/model"
	"github.com/artpar/entitycore/core/types"
)

// fieldReader reads a restriction or order field from a row, following
// aliases through belongs_to references.
type fieldReader func(row *model.Row, field string) (any, error)

func matches(row *model.Row, c *model.Criteria, read fieldReader) (bool, error) {
	for _, r := range c.Restrictions {
		v, err := read(row, r.Field)
		if err != nil {
			return false, err
		}
		ok, err := test(r, v)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func test(r model.Restriction, v any) (bool, error) {
	v = normalize(v)
	switch r.Op {
	case model.OpIsNull:
		return isNull(v), nil
	case model.OpIsNotNull:
		return !isNull(v), nil
	case model.OpEq, model.OpBelongsTo:
		return equal(v, normalize(r.Value)), nil
	case model.OpNe:
		return !equal(v, normalize(r.Value)), nil
	case model.OpIn:
		values, ok := r.Value.([]any)
		if !ok {
			return false, fmt.Errorf("in %q: values must be a list, got %T", r.Field, r.Value)
		}
		for _, x := range values {
			if equal(v, normalize(x)) {
				return true, nil
			}
		}
		return false, nil
	case model.OpLike:
		s, ok := v.(string)
		if !ok {
			return false, nil
		}
		return likePattern(fmt.Sprint(r.Value)).MatchString(s), nil
	case model.OpGt, model.OpGe, model.OpLt, model.OpLe:
		if isNull(v) {
			return false, nil
		}
		cmp := compare(v, normalize(r.Value))
		switch r.Op {
		case model.OpGt:
			return cmp > 0, nil
		case model.OpGe:
			return cmp >= 0, nil
		case model.OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case model.OpBetween:
		if isNull(v) {
			return false, nil
		}
		return compare(v, normalize(r.Value)) >= 0 && compare(v, normalize(r.Upper)) <= 0, nil
	}
	return false, fmt.Errorf("unsupported operator %q", r.Op)
}

// normalize maps values onto the canonical slot classes so comparisons do
// not depend on the caller's integer width or reference representation.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case types.Identified:
		return x.ID()
	}
	return v
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	if ids, ok := v.([]string); ok {
		return len(ids) == 0
	}
	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if _, ok := a.([]string); ok {
		return false
	}
	return compare(a, b) == 0 && sameClass(a, b)
}

func sameClass(a, b any) bool {
	_, an := number(a)
	_, bn := number(b)
	if an || bn {
		return an && bn
	}
	return fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// compare orders values of one class. Nil sorts first; mismatched classes
// fall back to their text form.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if x, ok := a.(int64); ok {
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y)
		}
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return cmpOrdered(x, y)
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			return cmpOrdered(boolInt(x), boolInt(y))
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// likePattern translates a LIKE pattern into a case-insensitive regexp.
func likePattern(p string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range p {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
