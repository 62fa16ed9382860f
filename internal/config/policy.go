package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"gopkg.in/yaml.v2"

	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/filter"
)

// DefaultRulePriority applies to rules that do not set one.
const DefaultRulePriority = 500

// defaultChainPriorities are matched against a chain suffix by prefix, in order.
var defaultChainPriorities = []struct {
	prefix   string
	priority int
}{
	{"stp", -810},
	{"mac", -800},
	{"vlan", -750},
	{"ipv4", -700},
	{"ipv6", -600},
	{"arp", -500},
	{"rarp", -400},
}

// DefaultChainPriority returns the priority of a chain that does not declare one.
func DefaultChainPriority(suffix string) int {
	for _, d := range defaultChainPriorities {
		if strings.HasPrefix(suffix, d.prefix) {
			return d.priority
		}
	}
	return 0
}

// RuleSpec is one rule as written in a policy file.
type RuleSpec struct {
	Protocol      string
	Direction     string
	Action        string
	Jump          string
	Priority      *int
	Chain         string
	ChainPriority *int
	State         string
	NoStateMatch  bool
	Comment       string
	Match         map[string]string
}

// Policy is a decoded policy file.
type Policy struct {
	Variables map[string][]string
	Rules     []RuleSpec
}

// LoadPolicy reads a policy file. Files ending in .yaml or .yml are YAML;
// everything else is HCL.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "failed to read policy %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParsePolicyYAML(data)
	}
	return ParsePolicyHCL(data, path)
}

type hclPolicy struct {
	Variables hcl.Expression `hcl:"variables,optional"`
	Rules     []hclRule      `hcl:"rule,block"`
}

type hclRule struct {
	Protocol      string         `hcl:"protocol"`
	Direction     string         `hcl:"direction,optional"`
	Action        string         `hcl:"action,optional"`
	Jump          string         `hcl:"jump,optional"`
	Priority      *int           `hcl:"priority,optional"`
	Chain         string         `hcl:"chain,optional"`
	ChainPriority *int           `hcl:"chain_priority,optional"`
	State         string         `hcl:"state,optional"`
	NoStateMatch  bool           `hcl:"no_state_match,optional"`
	Comment       string         `hcl:"comment,optional"`
	Match         hcl.Expression `hcl:"match,optional"`
}

// ParsePolicyHCL decodes an HCL policy.
func ParsePolicyHCL(data []byte, filename string) (*Policy, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errors.Errorf(errors.KindValidation, "HCL parse error: %s", diags.Error())
	}
	var raw hclPolicy
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, errors.Errorf(errors.KindValidation, "HCL decode error: %s", diags.Error())
	}

	p := &Policy{Variables: map[string][]string{}}
	vars, err := exprMap(raw.Variables)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "variables")
	}
	for name, v := range vars {
		list, err := ctyStrings(v)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "variable %s", name)
		}
		p.Variables[name] = list
	}

	for i, r := range raw.Rules {
		spec := RuleSpec{
			Protocol:      r.Protocol,
			Direction:     r.Direction,
			Action:        r.Action,
			Jump:          r.Jump,
			Priority:      r.Priority,
			Chain:         r.Chain,
			ChainPriority: r.ChainPriority,
			State:         r.State,
			NoStateMatch:  r.NoStateMatch,
			Comment:       r.Comment,
			Match:         map[string]string{},
		}
		match, err := exprMap(r.Match)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "rule %d match", i)
		}
		for field, v := range match {
			s, err := ctyString(v)
			if err != nil {
				return nil, errors.Wrapf(err, errors.KindValidation, "rule %d match %s", i, field)
			}
			spec.Match[field] = s
		}
		p.Rules = append(p.Rules, spec)
	}
	return p, nil
}

// exprMap evaluates an object-valued attribute. An absent attribute yields nil.
func exprMap(expr hcl.Expression) (map[string]cty.Value, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, errors.New(errors.KindValidation, diags.Error())
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, errors.Errorf(errors.KindValidation, "expected an object, got %s", val.Type().FriendlyName())
	}
	return val.AsValueMap(), nil
}

func ctyString(v cty.Value) (string, error) {
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", err
	}
	if s.IsNull() || !s.IsKnown() {
		return "", errors.New(errors.KindValidation, "value must not be null")
	}
	return s.AsString(), nil
}

// ctyStrings accepts a single value or a list of values.
func ctyStrings(v cty.Value) ([]string, error) {
	ty := v.Type()
	if !ty.IsTupleType() && !ty.IsListType() && !ty.IsSetType() {
		s, err := ctyString(v)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
	var out []string
	for it := v.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		s, err := ctyString(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// stringList decodes either a scalar or a sequence.
type stringList []string

func (l *stringList) UnmarshalYAML(unmarshal func(any) error) error {
	var many []string
	if err := unmarshal(&many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := unmarshal(&one); err != nil {
		return err
	}
	*l = []string{one}
	return nil
}

type yamlPolicy struct {
	Variables map[string]stringList `yaml:"variables"`
	Rules     []yamlRule            `yaml:"rules"`
}

type yamlRule struct {
	Protocol      string            `yaml:"protocol"`
	Direction     string            `yaml:"direction"`
	Action        string            `yaml:"action"`
	Jump          string            `yaml:"jump"`
	Priority      *int              `yaml:"priority"`
	Chain         string            `yaml:"chain"`
	ChainPriority *int              `yaml:"chain_priority"`
	State         string            `yaml:"state"`
	NoStateMatch  bool              `yaml:"no_state_match"`
	Comment       string            `yaml:"comment"`
	Match         map[string]string `yaml:"match"`
}

// ParsePolicyYAML decodes a YAML policy.
func ParsePolicyYAML(data []byte) (*Policy, error) {
	var raw yamlPolicy
	if err := yaml.UnmarshalStrict(data, &raw); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "YAML decode error")
	}
	p := &Policy{Variables: make(map[string][]string, len(raw.Variables))}
	for name, v := range raw.Variables {
		p.Variables[name] = v
	}
	for _, r := range raw.Rules {
		if r.Match == nil {
			r.Match = map[string]string{}
		}
		p.Rules = append(p.Rules, RuleSpec(r))
	}
	return p, nil
}

// Rule builds the filter rule a spec describes.
func (s RuleSpec) Rule() (*filter.Rule, error) {
	if s.Protocol == "" {
		return nil, errors.New(errors.KindValidation, "protocol is required")
	}
	proto, err := filter.ParseProtocol(s.Protocol)
	if err != nil {
		return nil, err
	}
	r := &filter.Rule{
		Protocol:     proto,
		Direction:    filter.DirInOut,
		Action:       filter.ActionAccept,
		JumpChain:    s.Jump,
		Priority:     DefaultRulePriority,
		NoStateMatch: s.NoStateMatch,
		Comment:      s.Comment,
	}
	if s.Direction != "" {
		if r.Direction, err = filter.ParseDirection(s.Direction); err != nil {
			return nil, err
		}
	}
	if s.Action != "" {
		if r.Action, err = filter.ParseAction(s.Action); err != nil {
			return nil, err
		}
	}
	if s.Jump != "" && s.Action == "" {
		r.Action = filter.ActionJump
	}
	if s.Priority != nil {
		r.Priority = *s.Priority
	}
	if s.State != "" {
		if r.State, err = filter.ParseStateFlags(s.State); err != nil {
			return nil, err
		}
	}

	// Sorted so errors are reported deterministically.
	fields := make([]string, 0, len(s.Match))
	for f := range s.Match {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if err := r.SetField(f, s.Match[f]); err != nil {
			return nil, err
		}
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Instances compiles the policy into rule instances bound to its variables.
func (p *Policy) Instances() ([]*filter.Instance, error) {
	out := make([]*filter.Instance, 0, len(p.Rules))
	for i, spec := range p.Rules {
		r, err := spec.Rule()
		if err != nil {
			return nil, errors.Attr(err, "rule", i)
		}
		for _, name := range r.Variables() {
			values, ok := p.Variables[name]
			if !ok {
				return nil, errors.Attr(errors.Errorf(errors.KindValidation, "undefined variable %s", name), "rule", i)
			}
			if len(values) == 0 {
				return nil, errors.Attr(errors.Errorf(errors.KindValidation, "variable %s has no values", name), "rule", i)
			}
		}

		suffix := spec.Chain
		if suffix == "" {
			suffix = filter.RootChain
		}
		prio := DefaultChainPriority(suffix)
		if spec.ChainPriority != nil {
			prio = *spec.ChainPriority
		}
		if prio < filter.MinPriority || prio > filter.MaxPriority {
			return nil, errors.Attr(errors.Errorf(errors.KindValidation, "chain priority %d outside [%d, %d]", prio, filter.MinPriority, filter.MaxPriority), "rule", i)
		}

		in := &filter.Instance{Rule: r, ChainSuffix: suffix, ChainPriority: prio}
		if names := r.Variables(); len(names) > 0 {
			in.Vars = filter.NewCartesian(p.Variables, names...)
		}
		out = append(out, in)
	}
	return out, nil
}
