package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/artpar/entitycore/core/types"
)

// timeLayout sorts lexically in UTC, which comparisons on text columns
// depend on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// encode converts a canonical slot value into a driver argument.
func (d Dialect) encode(k types.Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if id, ok := v.(types.Identified); ok {
		return id.ID(), nil
	}
	switch k {
	case types.KindDate, types.KindDateTime:
		t, ok := v.(time.Time)
		if !ok {
			return v, nil
		}
		return d.encodeTime(t), nil
	case types.KindManyToMany:
		ids, ok := v.([]string)
		if !ok {
			return nil, fmt.Errorf("many_to_many slot must be []string, got %T", v)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		b, err := json.Marshal(ids)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}

func (d Dialect) encodeTime(t time.Time) any {
	if d.timesAsText {
		return t.UTC().Format(timeLayout)
	}
	return t.UTC()
}

// decode converts a scanned column value into its canonical slot value.
func decode(k types.Kind, v any) (any, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}
	switch k {
	case types.KindBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			return strconv.ParseBool(x)
		}
	case types.KindInteger, types.KindPriority:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int32:
			return int64(x), nil
		case float64:
			return int64(x), nil
		case string:
			return strconv.ParseInt(x, 10, 64)
		}
	case types.KindDecimal:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			return strconv.ParseFloat(x, 64)
		}
	case types.KindDate, types.KindDateTime:
		return decodeTime(v)
	case types.KindManyToMany:
		s, ok := v.(string)
		if !ok {
			break
		}
		var ids []string
		if err := json.Unmarshal([]byte(s), &ids); err != nil {
			return nil, fmt.Errorf("decode id list: %w", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		return ids, nil
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
	return nil, fmt.Errorf("cannot decode %T into a %s column", v, k)
}

func decodeTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		for _, layout := range []string{timeLayout, time.RFC3339Nano, time.DateTime, time.DateOnly} {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid time %q", x)
	}
	return time.Time{}, fmt.Errorf("cannot decode %T into a time", v)
}
