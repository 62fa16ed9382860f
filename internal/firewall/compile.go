package firewall

import (
	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/filter"
)

func compileErrorf(format string, args ...any) error {
	return errors.Errorf(errors.KindCompile, format, args...)
}

// Compiler turns rule instances into backend commands for one probed environment.
type Compiler struct {
	env *Environment
}

// NewCompiler creates a compiler. The environment is read, never modified.
func NewCompiler(env *Environment) *Compiler {
	return &Compiler{env: env}
}

// LayerOf returns the backend a rule is compiled for.
func LayerOf(r *filter.Rule) Layer {
	switch {
	case r.Protocol.IsEthernet():
		return LayerEbtables
	case r.Protocol.IsIPv6():
		return LayerIp6tables
	}
	return LayerIptables
}

// Compile renders an instance once per variable combination. Commands of
// one combination stay together, in leg order.
func (c *Compiler) Compile(ifname string, inst *filter.Instance) ([]Command, error) {
	rule := inst.Rule
	if rule == nil {
		return nil, compileErrorf("rule instance without a rule")
	}
	if err := rule.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.KindCompile, "invalid rule")
	}
	layer := LayerOf(rule)
	if !c.env.Tools.Have(layer) {
		return nil, toolUnavailable(layer)
	}

	var out []Command
	err := filter.ForEach(inst.Vars, func(b filter.Binding) error {
		cmds, err := c.CompileBinding(ifname, rule, inst.Suffix(), b)
		if err != nil {
			return err
		}
		out = append(out, cmds...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompileBinding renders a rule under a single binding.
func (c *Compiler) CompileBinding(ifname string, rule *filter.Rule, suffix string, b filter.Binding) ([]Command, error) {
	switch LayerOf(rule) {
	case LayerEbtables:
		return c.compileEbtables(ifname, rule, suffix, b)
	case LayerIp6tables:
		return c.compileIptables(ifname, rule, b, LayerIp6tables)
	}
	return c.compileIptables(ifname, rule, b, LayerIptables)
}

// args accumulates command arguments and the first rendering error.
type args struct {
	list []string
	b    filter.Binding
	err  error
}

func (a *args) add(s ...string) {
	a.list = append(a.list, s...)
}

func (a *args) value(it *filter.Item) filter.Value {
	if a.err != nil {
		return filter.Value{}
	}
	v, err := it.Resolve(a.b)
	if err != nil {
		a.err = err
	}
	return v
}

func (a *args) render(it *filter.Item) string {
	if a.err != nil {
		return ""
	}
	s, err := it.Render(a.b)
	if err != nil {
		a.err = errors.Wrap(err, errors.KindCompile, "rendering matcher")
	}
	return s
}

func (a *args) renderHex(it *filter.Item) string {
	if a.err != nil {
		return ""
	}
	s, err := it.RenderHex(a.b)
	if err != nil {
		a.err = errors.Wrap(err, errors.KindCompile, "rendering matcher")
	}
	return s
}

// withSuffix renders it and, when extra is set, appends sep and extra.
func (a *args) withSuffix(it *filter.Item, sep string, extra *filter.Item) string {
	s := a.render(it)
	if extra != nil {
		s += sep + a.render(extra)
	}
	return s
}

// negate returns "!" for negated matchers.
func negate(it *filter.Item) []string {
	if it.Negate {
		return []string{"!"}
	}
	return nil
}
