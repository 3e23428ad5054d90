package tools

import (
	"fmt"
	"strconv"
)

// String returns a string argument, or def when it is absent or empty.
func String(args map[string]any, name, def string) string {
	switch v := args[name].(type) {
	case string:
		if v != "" {
			return v
		}
	case nil:
	default:
		return fmt.Sprint(v)
	}
	return def
}

// RequireString returns a non-empty string argument or an error naming it.
func RequireString(args map[string]any, name string) (string, error) {
	s := String(args, name, "")
	if s == "" {
		return "", fmt.Errorf("missing required argument %q", name)
	}
	return s, nil
}

// Int returns an integer argument. JSON numbers and numeric strings are
// accepted.
func Int(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns a boolean argument. The strings "true" and "false" are
// accepted.
func Bool(args map[string]any, name string, def bool) bool {
	switch v := args[name].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Strings returns a list-of-strings argument. A single string becomes a
// one-element list.
func Strings(args map[string]any, name string) []string {
	switch v := args[name].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

// Object returns a JSON object argument.
func Object(args map[string]any, name string) (map[string]any, bool) {
	m, ok := args[name].(map[string]any)
	return m, ok
}
