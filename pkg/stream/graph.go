package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownParent is returned when a definition names a missing parent.
	ErrUnknownParent = errors.New("unknown parent stream")

	// ErrUnknownStream is returned when selecting a stream that does not exist.
	ErrUnknownStream = errors.New("unknown stream")

	// ErrCycle is returned when parent links form a loop.
	ErrCycle = errors.New("stream dependency cycle")

	// ErrDuplicateStream is returned when two definitions share a name.
	ErrDuplicateStream = errors.New("duplicate stream name")
)

// Graph is the immutable dependency graph of stream definitions.
type Graph struct {
	defs     map[string]*Definition
	order    []string
	children map[string][]string
	selected map[string]bool
}

// NewGraph validates defs and builds the graph. Every stream starts selected.
func NewGraph(defs ...*Definition) (*Graph, error) {
	g := &Graph{
		defs:     make(map[string]*Definition, len(defs)),
		children: make(map[string][]string),
		selected: make(map[string]bool, len(defs)),
	}

	for _, d := range defs {
		if d == nil || d.Name == "" {
			return nil, fmt.Errorf("stream definition without a name")
		}
		if _, dup := g.defs[d.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStream, d.Name)
		}
		g.defs[d.Name] = d
		g.order = append(g.order, d.Name)
		g.selected[d.Name] = true
	}

	for _, name := range g.order {
		d := g.defs[name]
		if !d.IsChild() {
			continue
		}
		parent, ok := g.defs[d.Parent]
		if !ok {
			return nil, fmt.Errorf("%w: %s (parent of %s)", ErrUnknownParent, d.Parent, name)
		}
		if len(parent.ChildKeys) == 0 {
			return nil, fmt.Errorf("stream %s has children but no child keys", parent.Name)
		}
		g.children[d.Parent] = append(g.children[d.Parent], name)
	}

	for _, name := range g.order {
		if err := g.checkAcyclic(name); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func (g *Graph) checkAcyclic(name string) error {
	seen := map[string]bool{}
	for cur := name; cur != ""; cur = g.defs[cur].Parent {
		if seen[cur] {
			return fmt.Errorf("%w: through %s", ErrCycle, name)
		}
		seen[cur] = true
	}
	return nil
}

// Get returns the named definition.
func (g *Graph) Get(name string) (*Definition, bool) {
	d, ok := g.defs[name]
	return d, ok
}

// Names returns every stream name in declaration order.
func (g *Graph) Names() []string {
	return append([]string(nil), g.order...)
}

// Parent returns the parent definition of name, if any.
func (g *Graph) Parent(name string) (*Definition, bool) {
	d, ok := g.defs[name]
	if !ok || !d.IsChild() {
		return nil, false
	}
	return g.defs[d.Parent], true
}

// Children returns the direct children of name in declaration order.
func (g *Graph) Children(name string) []*Definition {
	names := g.children[name]
	out := make([]*Definition, 0, len(names))
	for _, n := range names {
		out = append(out, g.defs[n])
	}
	return out
}

// Select restricts emission to names. An empty selection selects everything.
func (g *Graph) Select(names ...string) error {
	if len(names) == 0 {
		for _, n := range g.order {
			g.selected[n] = true
		}
		return nil
	}

	selected := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := g.defs[n]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStream, n)
		}
		selected[n] = true
	}
	g.selected = selected
	return nil
}

// IsSelected reports whether records of name are emitted.
func (g *Graph) IsSelected(name string) bool {
	return g.selected[name]
}

// Needed reports whether name must run: it is selected, or one of its
// descendants is and depends on its records.
func (g *Graph) Needed(name string) bool {
	if g.selected[name] {
		return true
	}
	for _, child := range g.children[name] {
		if g.Needed(child) {
			return true
		}
	}
	return false
}

// Roots returns the independent streams that need to run.
func (g *Graph) Roots() []*Definition {
	var out []*Definition
	for _, name := range g.order {
		d := g.defs[name]
		if !d.IsChild() && g.Needed(name) {
			out = append(out, d)
		}
	}
	return out
}
