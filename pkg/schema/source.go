// Package schema resolves stream schemas from a Swagger/OpenAPI document.
//
// The Sunwave API omits fields unpredictably, so every resolved schema has
// each of its types widened to also allow null.
package schema

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownRef indicates the document has no schema with that name
	ErrUnknownRef = errors.New("unknown schema ref")

	// ErrCircularRef indicates a $ref chain that leads back to itself
	ErrCircularRef = errors.New("circular schema ref")

	// ErrInvalidDocument indicates a document with no schema section
	ErrInvalidDocument = errors.New("invalid schema document")
)

// Schema is a decoded JSON Schema object.
type Schema = map[string]any

// ref prefixes understood by Resolve, Swagger 2 first.
var refPrefixes = []string{"#/definitions/", "#/components/schemas/"}

// Source holds a parsed schema document and caches resolved schemas.
type Source struct {
	schemas map[string]any

	mu    sync.Mutex
	cache map[string]Schema
}

// Load reads a JSON or YAML document from path.
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema document: %w", err)
	}
	return Parse(data)
}

// Parse decodes a document. JSON is accepted as a subset of YAML.
func Parse(data []byte) (*Source, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	schemas, _ := doc["definitions"].(map[string]any)
	if schemas == nil {
		if components, ok := doc["components"].(map[string]any); ok {
			schemas, _ = components["schemas"].(map[string]any)
		}
	}
	if schemas == nil {
		return nil, fmt.Errorf("%w: no definitions or components.schemas", ErrInvalidDocument)
	}

	return &Source{
		schemas: schemas,
		cache:   make(map[string]Schema),
	}, nil
}

// Names lists the schemas in the document, sorted.
func (s *Source) Names() []string {
	names := make([]string, 0, len(s.schemas))
	for name := range s.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the named schema with every $ref inlined and every type
// made nullable. ref may be a bare name or a "#/definitions/" or
// "#/components/schemas/" pointer. Results are cached; callers must not
// modify them.
func (s *Source) Resolve(ref string) (Schema, error) {
	name := refName(ref)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[name]; ok {
		return cached, nil
	}

	resolved, err := s.inline(name, map[string]bool{})
	if err != nil {
		return nil, err
	}
	out := MakeNullable(resolved)
	s.cache[name] = out
	return out, nil
}

func refName(ref string) string {
	for _, p := range refPrefixes {
		if strings.HasPrefix(ref, p) {
			return strings.TrimPrefix(ref, p)
		}
	}
	return ref
}

// inline returns a copy of the named schema with $refs replaced.
// visiting holds the names on the current chain.
func (s *Source) inline(name string, visiting map[string]bool) (Schema, error) {
	raw, ok := s.schemas[name].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRef, name)
	}
	if visiting[name] {
		return nil, fmt.Errorf("%w: %s", ErrCircularRef, name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	v, err := s.walk(raw, visiting)
	if err != nil {
		return nil, err
	}
	return v.(Schema), nil
}

func (s *Source) walk(node any, visiting map[string]bool) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		if ref, ok := n["$ref"].(string); ok {
			return s.inline(refName(ref), visiting)
		}
		out := make(map[string]any, len(n))
		for k, v := range n {
			w, err := s.walk(v, visiting)
			if err != nil {
				return nil, err
			}
			out[k] = w
		}
		return out, nil
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			w, err := s.walk(v, visiting)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	default:
		return n, nil
	}
}

// MakeNullable returns a copy of schema where every "type" also admits
// "null". Nested schemas under properties, items, additionalProperties and
// the allOf/anyOf/oneOf combinators are rewritten too.
func MakeNullable(schema Schema) Schema {
	out := make(Schema, len(schema))
	for k, v := range schema {
		out[k] = v
	}

	switch t := out["type"].(type) {
	case string:
		if t != "null" {
			out["type"] = []any{t, "null"}
		}
	case []any:
		out["type"] = withNull(t)
	}

	if props, ok := out["properties"].(map[string]any); ok {
		np := make(map[string]any, len(props))
		for name, p := range props {
			if ps, ok := p.(map[string]any); ok {
				np[name] = MakeNullable(ps)
			} else {
				np[name] = p
			}
		}
		out["properties"] = np
	}

	for _, key := range []string{"items", "additionalProperties"} {
		if sub, ok := out[key].(map[string]any); ok {
			out[key] = MakeNullable(sub)
		}
	}

	for _, key := range []string{"allOf", "anyOf", "oneOf"} {
		if list, ok := out[key].([]any); ok {
			nl := make([]any, len(list))
			for i, item := range list {
				if sub, ok := item.(map[string]any); ok {
					nl[i] = MakeNullable(sub)
				} else {
					nl[i] = item
				}
			}
			out[key] = nl
		}
	}

	return out
}

func withNull(types []any) []any {
	for _, t := range types {
		if t == "null" {
			return types
		}
	}
	out := make([]any, 0, len(types)+1)
	out = append(out, types...)
	return append(out, "null")
}
