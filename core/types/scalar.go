package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
)

// Default maximum lengths for string and text fields.
const (
	StringMaxLength = 255
	TextMaxLength   = 2048
)

// Layouts for date and datetime values.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// Boolean accepts "1", "true" and "yes" as true; every other value is false.
type Boolean struct{}

func (Boolean) Kind() Kind     { return KindBoolean }
func (Boolean) Copyable() bool { return true }

func (Boolean) ToObject(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case string:
		return parseBool(v), nil
	case int, int32, int64:
		return fmt.Sprint(v) == "1", nil
	}
	return parseBool(fmt.Sprint(value)), nil
}

func (Boolean) ToString(value any, _ language.Tag) string {
	if b, ok := value.(bool); ok && b {
		return "1"
	}
	return "0"
}

func (Boolean) FromString(text string, _ language.Tag) (any, error) {
	return parseBool(text), nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Integer holds int64 values.
type Integer struct{}

func (Integer) Kind() Kind     { return KindInteger }
func (Integer) Copyable() bool { return true }

func (Integer) ToObject(value any) (any, error) {
	return toInt64(value)
}

func (Integer) ToString(value any, _ language.Tag) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

func (Integer) FromString(text string, _ language.Tag) (any, error) {
	return toInt64(text)
}

func toInt64(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return nil, conversionError(MsgInvalidNumericFormat)
		}
		if v >= math.MaxInt64 || v < math.MinInt64 {
			return nil, conversionError(MsgOutOfRange)
		}
		return int64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
				return nil, conversionError(MsgOutOfRange)
			}
			return nil, conversionError(MsgInvalidNumericFormat)
		}
		return n, nil
	}
	return nil, conversionError(MsgWrongType, fmt.Sprintf("%T", value))
}

// Decimal holds float64 values. Scale limits the fraction digits accepted
// on input; zero means unlimited.
type Decimal struct {
	Scale int
}

func (Decimal) Kind() Kind     { return KindDecimal }
func (Decimal) Copyable() bool { return true }

func (d Decimal) ToObject(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return d.parse(v)
	}
	return nil, conversionError(MsgWrongType, fmt.Sprintf("%T", value))
}

func (d Decimal) parse(text string) (any, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, conversionError(MsgInvalidNumericFormat)
	}
	if d.Scale > 0 {
		if _, frac, ok := strings.Cut(s, "."); ok && len(frac) > d.Scale {
			return nil, conversionError(MsgInvalidScale, strconv.Itoa(d.Scale))
		}
	}
	return f, nil
}

func (Decimal) ToString(value any, _ language.Tag) string {
	f, ok := value.(float64)
	if !ok {
		if value == nil {
			return ""
		}
		return fmt.Sprint(value)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (d Decimal) FromString(text string, _ language.Tag) (any, error) {
	return d.parse(text)
}

// String holds bounded text. MaxLength defaults to StringMaxLength.
type String struct {
	MaxLength int
}

// Text is a String with a larger default bound.
func Text() String {
	return String{MaxLength: TextMaxLength}
}

func (s String) Kind() Kind {
	if s.MaxLength > StringMaxLength {
		return KindText
	}
	return KindString
}

func (String) Copyable() bool { return true }

func (s String) ToObject(value any) (any, error) {
	var str string
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		str = v
	case fmt.Stringer:
		str = v.String()
	default:
		str = fmt.Sprint(v)
	}
	limit := s.MaxLength
	if limit == 0 {
		limit = StringMaxLength
	}
	if utf8.RuneCountInString(str) > limit {
		return nil, conversionError(MsgStringTooLong, strconv.Itoa(limit))
	}
	return str, nil
}

func (String) ToString(value any, _ language.Tag) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

func (s String) FromString(text string, _ language.Tag) (any, error) {
	return s.ToObject(text)
}

// Date holds a calendar day as time.Time at midnight UTC.
type Date struct{}

func (Date) Kind() Kind     { return KindDate }
func (Date) Copyable() bool { return true }

func (Date) ToObject(value any) (any, error) {
	return toTime(value, DateLayout, MsgInvalidDateFormat, true)
}

func (Date) ToString(value any, _ language.Tag) string {
	if t, ok := value.(time.Time); ok {
		return t.Format(DateLayout)
	}
	return ""
}

func (Date) FromString(text string, _ language.Tag) (any, error) {
	return toTime(text, DateLayout, MsgInvalidDateFormat, true)
}

// DateTime holds a timestamp with second precision.
type DateTime struct{}

func (DateTime) Kind() Kind     { return KindDateTime }
func (DateTime) Copyable() bool { return true }

func (DateTime) ToObject(value any) (any, error) {
	return toTime(value, DateTimeLayout, MsgInvalidDateTimeFormat, false)
}

func (DateTime) ToString(value any, _ language.Tag) string {
	if t, ok := value.(time.Time); ok {
		return t.Format(DateTimeLayout)
	}
	return ""
}

func (DateTime) FromString(text string, _ language.Tag) (any, error) {
	return toTime(text, DateTimeLayout, MsgInvalidDateTimeFormat, false)
}

func toTime(value any, layout, msg string, truncate bool) (any, error) {
	var t time.Time
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		t = v.UTC()
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		parsed, err := time.Parse(layout, s)
		if err != nil {
			// Accept RFC 3339 as written by storage drivers.
			parsed, err = time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, conversionError(msg)
			}
		}
		t = parsed.UTC()
	default:
		return nil, conversionError(MsgWrongType, fmt.Sprintf("%T", value))
	}
	if truncate {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return t.Truncate(time.Second), nil
}

// Priority holds a row's position among its siblings. Scope names the
// belongs_to field whose value groups siblings; empty means one global
// sequence. Priorities are assigned by the priority subsystem, never copied.
type Priority struct {
	Scope string
}

func (Priority) Kind() Kind     { return KindPriority }
func (Priority) Copyable() bool { return false }

func (Priority) ToObject(value any) (any, error) {
	return toInt64(value)
}

func (Priority) FromString(text string, _ language.Tag) (any, error) {
	return toInt64(text)
}

func (Priority) ToString(value any, _ language.Tag) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}
