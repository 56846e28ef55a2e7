package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrUnresolvedReference = errors.New("unresolved reference")

// UnresolvedReference tells an interpolation could not be resolved.
type UnresolvedReference struct {
	// At is the dotted path of the option holding the reference.
	At string

	Reference string
	Reason    string
}

func (u UnresolvedReference) Error() string {
	return fmt.Sprintf("%s: ${%s} at %s: %s", ErrUnresolvedReference, u.Reference, u.At, u.Reason)
}

func (u UnresolvedReference) Unwrap() error {
	return ErrUnresolvedReference
}

var reference = regexp.MustCompile(`\$\{([^${}]+)\}`)

type resolver struct {
	root      map[string]any
	lookupEnv func(string) (string, bool)

	// references being resolved, to detect cycles
	visiting map[string]bool
}

func (r *resolver) resolve(v any, at string) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		ret := make(map[string]any, len(x))
		for k, vv := range x {
			resolved, err := r.resolve(vv, join(at, k))
			if err != nil {
				return nil, err
			}
			ret[k] = resolved
		}
		return ret, nil
	case []any:
		ret := make([]any, len(x))
		for i, vv := range x {
			resolved, err := r.resolve(vv, fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			ret[i] = resolved
		}
		return ret, nil
	case string:
		return r.interpolate(x, at)
	default:
		return x, nil
	}
}

// interpolate replaces references in s.
//
// When s is exactly one reference, the referred value is returned as is (keeping its type).
// Otherwise references are formatted into the string.
func (r *resolver) interpolate(s string, at string) (any, error) {
	found := reference.FindAllStringSubmatchIndex(s, -1)
	if len(found) == 0 {
		if strings.Contains(s, "${") {
			return nil, UnresolvedReference{At: at, Reference: s, Reason: "malformed interpolation"}
		}
		return s, nil
	}

	if len(found) == 1 && found[0][0] == 0 && found[0][1] == len(s) {
		return r.lookup(s[found[0][2]:found[0][3]], at)
	}

	b := new(strings.Builder)
	last := 0
	for _, m := range found {
		literal := s[last:m[0]]
		if strings.Contains(literal, "${") {
			return nil, UnresolvedReference{At: at, Reference: s, Reason: "malformed interpolation"}
		}
		b.WriteString(literal)

		v, err := r.lookup(s[m[2]:m[3]], at)
		if err != nil {
			return nil, err
		}
		switch v.(type) {
		case map[string]any, []any:
			return nil, UnresolvedReference{
				At: at, Reference: s[m[2]:m[3]],
				Reason: "a mapping or a list can not be embedded in a string",
			}
		}
		fmt.Fprint(b, v)
		last = m[1]
	}
	tail := s[last:]
	if strings.Contains(tail, "${") {
		return nil, UnresolvedReference{At: at, Reference: s, Reason: "malformed interpolation"}
	}
	b.WriteString(tail)
	return b.String(), nil
}

func (r *resolver) lookup(expr string, at string) (any, error) {
	expr = strings.TrimSpace(expr)

	if rest, ok := cutEnvPrefix(expr); ok {
		name, def, hasDefault := strings.Cut(rest, ",")
		name = strings.TrimSpace(name)
		if v, ok := r.lookupEnv(name); ok {
			return v, nil
		}
		if hasDefault {
			return strings.TrimSpace(def), nil
		}
		return nil, UnresolvedReference{At: at, Reference: expr, Reason: "environment variable is not set"}
	}

	if r.visiting[expr] {
		return nil, UnresolvedReference{At: at, Reference: expr, Reason: "circular reference"}
	}
	r.visiting[expr] = true
	defer delete(r.visiting, expr)

	var cur any = r.root
	for _, part := range strings.Split(expr, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, UnresolvedReference{At: at, Reference: expr, Reason: "not found"}
		}
		if cur, ok = m[part]; !ok {
			return nil, UnresolvedReference{At: at, Reference: expr, Reason: "not found"}
		}
	}
	return r.resolve(cur, expr)
}

func cutEnvPrefix(expr string) (string, bool) {
	for _, prefix := range []string{"env:", "oc.env:"} {
		if rest, ok := strings.CutPrefix(expr, prefix); ok {
			return rest, true
		}
	}
	return "", false
}

func join(at, key string) string {
	if at == "" {
		return key
	}
	return at + "." + key
}
