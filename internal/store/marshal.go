package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/aiida/internal/entity"
)

// TimeLayout is the storage encoding of time columns.
const TimeLayout = time.RFC3339Nano

// encodeValue converts a Go value into the driver value for a column.
func encodeValue(col entity.Column, v any) (any, error) {
	if v == nil {
		if col.Nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("column %s: null not allowed", col.Name)
	}

	switch col.Kind {
	case entity.KindInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case float64:
			if n != float64(int64(n)) {
				return nil, fmt.Errorf("column %s: non-integral value %v", col.Name, n)
			}
			return int64(n), nil
		}
	case entity.KindText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case entity.KindBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		}
	case entity.KindTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format(TimeLayout), nil
		case string:
			parsed, err := time.Parse(TimeLayout, t)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col.Name, err)
			}
			return parsed.UTC().Format(TimeLayout), nil
		}
	case entity.KindJSON:
		switch m := v.(type) {
		case map[string]any:
			data, err := json.Marshal(m)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col.Name, err)
			}
			return string(data), nil
		case json.RawMessage:
			return string(m), nil
		}
	}
	return nil, fmt.Errorf("column %s: unsupported value type %T", col.Name, v)
}

// decodeValue converts a driver value into the Go value for a column.
func decodeValue(col entity.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch col.Kind {
	case entity.KindInt:
		if n, ok := v.(int64); ok {
			return n, nil
		}
	case entity.KindText:
		return asString(v)
	case entity.KindBool:
		switch b := v.(type) {
		case int64:
			return b != 0, nil
		case bool:
			return b, nil
		}
	case entity.KindTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		t, err := time.Parse(TimeLayout, s)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		return t.UTC(), nil
	case entity.KindJSON:
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("column %s: unexpected driver type %T", col.Name, v)
}

func asString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", fmt.Errorf("expected text, got %T", v)
	}
}
