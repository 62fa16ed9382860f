package filter

import (
	"grimm.is/bridgewall/internal/errors"
)

// Item is a single header-field matcher: a literal value or a variable
// reference, with an optional negation.
type Item struct {
	Type   DataType
	Negate bool
	// Var names the variable supplying the value. Empty for literals.
	Var   string
	Value Value
}

// Lit parses s as a literal matcher of type dt.
func Lit(dt DataType, s string) (*Item, error) {
	v, err := ParseValue(dt, s)
	if err != nil {
		return nil, err
	}
	return &Item{Type: dt, Value: v}, nil
}

// MustLit is like Lit but panics on malformed input.
func MustLit(dt DataType, s string) *Item {
	it, err := Lit(dt, s)
	if err != nil {
		panic(err)
	}
	return it
}

// Ref returns a matcher whose value is taken from variable name at compile time.
func Ref(dt DataType, name string) *Item {
	return &Item{Type: dt, Var: name}
}

// Not returns a negated copy of the matcher.
func (it *Item) Not() *Item {
	c := *it
	c.Negate = true
	return &c
}

// Resolve returns the matcher's concrete value under binding b.
func (it *Item) Resolve(b Binding) (Value, error) {
	if it.Var == "" {
		return it.Value, nil
	}
	if b == nil {
		return Value{}, errors.Errorf(errors.KindCompile, "no value bound for variable %s", it.Var)
	}
	raw, ok := b.Lookup(it.Var)
	if !ok {
		return Value{}, errors.Errorf(errors.KindCompile, "no value bound for variable %s", it.Var)
	}
	v, err := ParseValue(it.Type, raw)
	if err != nil {
		return Value{}, errors.Wrapf(err, errors.KindCompile, "variable %s", it.Var)
	}
	return v, nil
}

// Render resolves the matcher and renders it in decimal form.
func (it *Item) Render(b Binding) (string, error) {
	return it.render(b, false)
}

// RenderHex resolves the matcher and renders integers as hex.
func (it *Item) RenderHex(b Binding) (string, error) {
	return it.render(b, true)
}

func (it *Item) render(b Binding, hex bool) (string, error) {
	v, err := it.Resolve(b)
	if err != nil {
		return "", err
	}
	return it.Type.Render(v, hex)
}
