package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Section is a top level mapping in Config.
type Section struct {
	name   string
	values map[string]any
}

func (s Section) Name() string {
	return s.name
}

// Keys returns option names in the section, sorted.
func (s Section) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns a copy of an option value.
func (s Section) Lookup(key string) (any, bool) {
	v, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Values returns a copy of all options.
func (s Section) Values() map[string]any {
	return deepCopy(s.values).(map[string]any)
}

// InvalidOption tells an option has a value of unexpected type or range.
type InvalidOption struct {
	Section string
	Key     string
	Reason  string
}

func (i InvalidOption) Error() string {
	return fmt.Sprintf("%s.%s: %s", i.Section, i.Key, i.Reason)
}

func (s Section) invalid(key string, format string, args ...any) error {
	return InvalidOption{Section: s.name, Key: key, Reason: fmt.Sprintf(format, args...)}
}

// String returns a string option, or def when absent.
func (s Section) String(key string, def string) (string, error) {
	v, ok := s.values[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case int, float64, bool:
		return fmt.Sprint(x), nil
	}
	return "", s.invalid(key, "should be a string, but %T", v)
}

// RequiredString returns a non-empty string option.
func (s Section) RequiredString(key string) (string, error) {
	v, err := s.String(key, "")
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", s.invalid(key, "is required")
	}
	return v, nil
}

// Bool returns a boolean option, or def when absent.
func (s Section) Bool(key string, def bool) (bool, error) {
	v, ok := s.values[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, s.invalid(key, "should be a boolean, but %q", x)
		}
		return b, nil
	}
	return false, s.invalid(key, "should be a boolean, but %T", v)
}

// Float returns a numeric option, or def when absent.
func (s Section) Float(key string, def float64) (float64, error) {
	v, ok := s.values[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := AsFloat(v)
	if !ok {
		return 0, s.invalid(key, "should be a number, but %v", v)
	}
	return f, nil
}

// Int returns an integral option, or def when absent.
func (s Section) Int(key string, def int) (int, error) {
	v, ok := s.values[key]
	if !ok || v == nil {
		return def, nil
	}
	i, ok := AsInt(v)
	if !ok {
		return 0, s.invalid(key, "should be an integer, but %v", v)
	}
	return i, nil
}

// AsFloat converts a YAML scalar to float64.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// AsInt converts a YAML scalar to int. Non-integral floats are rejected.
func AsInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case uint64:
		return int(x), true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int(x), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		return i, err == nil
	}
	return 0, false
}
