package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// ErrUnresolvedPlaceholder is returned when a path template still contains
// placeholders after substitution.
var ErrUnresolvedPlaceholder = errors.New("unresolved path placeholder")

// Context holds path-template substitutions for one pagination unit.
type Context map[string]string

var placeholderRe = regexp.MustCompile(`\{([^{}/]+)\}`)

// MergeContext copies ctxs left to right into a new Context; later keys win.
func MergeContext(ctxs ...Context) Context {
	out := Context{}
	for _, c := range ctxs {
		for k, v := range c {
			out[k] = v
		}
	}
	return out
}

// String renders the context deterministically, e.g. "census_status=active,start=2024-01-01".
func (c Context) String() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+c[k])
	}
	return strings.Join(parts, ",")
}

// ResolvePath substitutes every {name} in template from ctx. Values are path
// escaped. Any placeholder without a value fails with ErrUnresolvedPlaceholder.
func ResolvePath(template string, ctx Context) (string, error) {
	var missing []string
	path := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := ctx[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return url.PathEscape(v)
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s in %q", ErrUnresolvedPlaceholder, strings.Join(missing, ", "), template)
	}
	return path, nil
}

// ChildContext builds the context for one child work unit from a parent
// record. It returns false when the record lacks any linking field, which
// is not an error: the relationship is optional per record.
func ChildContext(parent *Definition, record Record) (Context, bool) {
	if len(parent.ChildKeys) == 0 {
		return nil, false
	}

	ctx := make(Context, len(parent.ChildKeys))
	for _, key := range parent.ChildKeys {
		v, ok := record[key]
		if !ok || v == nil {
			return nil, false
		}
		s, ok := scalarString(v)
		if !ok {
			return nil, false
		}
		ctx[key] = s
	}
	return ctx, true
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	case float64:
		return fmt.Sprintf("%v", t), true
	case int:
		return fmt.Sprintf("%d", t), true
	case int64:
		return fmt.Sprintf("%d", t), true
	case bool:
		return fmt.Sprintf("%t", t), true
	default:
		return "", false
	}
}
