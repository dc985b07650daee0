// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coerce checks value against the declared kind, applying lenient
// conversions where they are unambiguous.
//
// Description:
//
//	Planner output and hand-written workflows routinely carry numbers as
//	strings and structures as JSON text. Rather than reject those, the
//	validator converts: numeric strings parse for numeric kinds, "true"
//	and "false" parse for booleans, JSON object/array text parses for
//	mapping and sequence kinds, and whole floats pass as integers.
//	Scalars stringify for the string kind. Structured values never
//	coerce to scalars.
//
// Outputs:
//   - any: The (possibly converted) value.
//   - error: Non-nil when no lenient path exists from the value to the
//     declared kind.
func Coerce(value any, kind Kind) (any, error) {
	if kind == KindAny || value == nil {
		return value, nil
	}
	switch kind {
	case KindString:
		return coerceString(value)
	case KindInteger:
		return coerceInteger(value)
	case KindFloat:
		return coerceFloat(value)
	case KindBoolean:
		return coerceBoolean(value)
	case KindMapping:
		return coerceMapping(value)
	case KindSequence, KindTuple:
		return coerceSequence(value, kind)
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

func coerceString(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to string", value)
	}
}

func coerceInteger(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("float %v is not a whole number", v)
		}
		return int64(v), nil
	case float32:
		return coerceInteger(float64(v))
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f == math.Trunc(f) {
			return int64(f), nil
		}
		return nil, fmt.Errorf("string %q is not an integer", v)
	default:
		return nil, fmt.Errorf("cannot coerce %T to integer", value)
	}
}

func coerceFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("string %q is not a number", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to float", value)
	}
}

func coerceBoolean(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("string %q is not a boolean", v)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to boolean", value)
	}
}

func coerceMapping(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		return v, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if !strings.HasPrefix(trimmed, "{") {
			return nil, fmt.Errorf("string is not a JSON object")
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
			return nil, fmt.Errorf("invalid JSON object: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to mapping", value)
	}
}

func coerceSequence(value any, kind Kind) (any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if !strings.HasPrefix(trimmed, "[") {
			return nil, fmt.Errorf("string is not a JSON array")
		}
		var s []any
		if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to %s", value, kind)
	}
}
