package filter

import (
	"sort"

	"grimm.is/bridgewall/internal/errors"
)

// Binding maps variable names to concrete values for one compilation pass.
type Binding interface {
	Lookup(name string) (string, bool)
}

// MapBinding is a Binding backed by a map.
type MapBinding map[string]string

// Lookup implements Binding.
func (m MapBinding) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Combinations iterates the bindings a rule must be compiled under.
// First rewinds the iteration; both return nil once exhausted.
type Combinations interface {
	First() Binding
	Next() Binding
}

// single yields one empty binding, for rules without variables.
type single struct{}

func (single) First() Binding { return MapBinding{} }

func (single) Next() Binding { return nil }

// Single returns the iterator for a rule that references no variables.
func Single() Combinations { return single{} }

// Cartesian iterates the Cartesian product of multi-valued variables.
type Cartesian struct {
	names  []string
	values [][]string
	pos    []int
	done   bool
}

// NewCartesian builds an iterator over the named variables. Names absent
// from values, or bound to an empty list, make the product empty.
func NewCartesian(values map[string][]string, names ...string) *Cartesian {
	uniq := make(map[string]bool, len(names))
	var sorted []string
	for _, n := range names {
		if !uniq[n] {
			uniq[n] = true
			sorted = append(sorted, n)
		}
	}
	sort.Strings(sorted)

	c := &Cartesian{names: sorted}
	for _, n := range sorted {
		c.values = append(c.values, values[n])
	}
	return c
}

// First implements Combinations.
func (c *Cartesian) First() Binding {
	c.pos = make([]int, len(c.names))
	c.done = false
	for _, v := range c.values {
		if len(v) == 0 {
			c.done = true
			return nil
		}
	}
	return c.current()
}

// Next implements Combinations. The last name in sort order varies fastest.
func (c *Cartesian) Next() Binding {
	if c.done || c.pos == nil {
		return nil
	}
	for i := len(c.pos) - 1; i >= 0; i-- {
		c.pos[i]++
		if c.pos[i] < len(c.values[i]) {
			return c.current()
		}
		c.pos[i] = 0
	}
	c.done = true
	return nil
}

// Unbound returns the first variable, in sort order, that has no values.
func (c *Cartesian) Unbound() string {
	for i, v := range c.values {
		if len(v) == 0 {
			return c.names[i]
		}
	}
	return ""
}

func (c *Cartesian) current() Binding {
	b := make(MapBinding, len(c.names))
	for i, n := range c.names {
		b[n] = c.values[i][c.pos[i]]
	}
	return b
}

// ForEach calls fn for every binding produced by combos, stopping at the
// first error. An empty product is a KindCompile error.
func ForEach(combos Combinations, fn func(Binding) error) error {
	if combos == nil {
		combos = Single()
	}
	b := combos.First()
	if b == nil {
		if u, ok := combos.(interface{ Unbound() string }); ok && u.Unbound() != "" {
			return errors.Errorf(errors.KindCompile, "no value for variable %q", u.Unbound())
		}
		return errors.New(errors.KindCompile, "no variable binding to compile under")
	}
	for ; b != nil; b = combos.Next() {
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}
