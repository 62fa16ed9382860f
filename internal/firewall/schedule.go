package firewall

import (
	"sort"

	"grimm.is/bridgewall/internal/filter"
)

// chainSet maps the sub-chain suffixes one bridge root chain needs to their priority.
type chainSet map[string]int

// ebChainSets collects the chains bridge-layer rules are placed in. Rules for
// traffic leaving the VM land under the incoming root, rules for traffic
// entering the VM under the outgoing root. A non-empty set means the root is needed.
func ebChainSets(rules []*filter.Instance) (incoming, outgoing chainSet) {
	incoming, outgoing = chainSet{}, chainSet{}
	for _, inst := range rules {
		if LayerOf(inst.Rule) != LayerEbtables {
			continue
		}
		switch inst.Rule.Direction {
		case filter.DirOut:
			incoming[inst.Suffix()] = inst.ChainPriority
		case filter.DirIn:
			outgoing[inst.Suffix()] = inst.ChainPriority
		case filter.DirInOut:
			incoming[inst.Suffix()] = inst.ChainPriority
			outgoing[inst.Suffix()] = inst.ChainPriority
		}
	}
	return incoming, outgoing
}

// chainItem is the creation of one temporary sub-chain.
type chainItem struct {
	suffix   string
	priority int
	cmds     []Command
}

// subChainItems renders sub-chain creation for both sets, ordered by priority.
// Root entries only mark the root as needed and produce no item.
func subChainItems(ifname string, incoming, outgoing chainSet) ([]chainItem, error) {
	var items []chainItem
	for _, side := range []struct {
		set      chainSet
		incoming bool
	}{{incoming, true}, {outgoing, false}} {
		suffixes := make([]string, 0, len(side.set))
		for s := range side.set {
			if s != filter.RootChain {
				suffixes = append(suffixes, s)
			}
		}
		sort.Slice(suffixes, func(i, j int) bool {
			pi, pj := side.set[suffixes[i]], side.set[suffixes[j]]
			if pi != pj {
				return pi < pj
			}
			return suffixes[i] < suffixes[j]
		})
		for _, s := range suffixes {
			cmds, err := ebSubChainCommands(GenTemp, side.incoming, ifname, s)
			if err != nil {
				return nil, err
			}
			items = append(items, chainItem{suffix: s, priority: side.set[s], cmds: cmds})
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].priority < items[j].priority })
	return items, nil
}

// scheduledRule is a rule instance with its effective priority.
type scheduledRule struct {
	inst     *filter.Instance
	priority int
}

// sortRules orders instances with root chain rules first, then by ascending
// priority, keeping the input order for ties. Afterwards a rule placed in a
// sub-chain of higher priority is raised to that priority so the chain is
// created before the rule is appended to it.
func sortRules(rules []*filter.Instance) []scheduledRule {
	out := make([]scheduledRule, len(rules))
	for i, inst := range rules {
		out[i] = scheduledRule{inst: inst, priority: inst.Rule.Priority}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].inst.InRootChain(), out[j].inst.InRootChain()
		if ri != rj {
			return ri
		}
		return out[i].priority < out[j].priority
	})
	for i := range out {
		inst := out[i].inst
		if !inst.InRootChain() && inst.ChainPriority > out[i].priority {
			out[i].priority = inst.ChainPriority
		}
	}
	return out
}

// interleave emits bridge-layer rule commands, creating each sub-chain right
// before the first rule whose effective priority reaches the chain's.
// Chains no rule reached are created at the end.
func interleave(rules []scheduledRule, chains []chainItem, compile func(*filter.Instance) ([]Command, error)) ([]Command, error) {
	var out []Command
	j := 0
	for _, r := range rules {
		if LayerOf(r.inst.Rule) != LayerEbtables {
			continue
		}
		for j < len(chains) && chains[j].priority <= r.priority {
			out = append(out, chains[j].cmds...)
			j++
		}
		cmds, err := compile(r.inst)
		if err != nil {
			return nil, err
		}
		out = append(out, cmds...)
	}
	for ; j < len(chains); j++ {
		out = append(out, chains[j].cmds...)
	}
	return out, nil
}

// layerRules compiles the IP-layer rules of one backend in scheduled order.
func layerRules(rules []scheduledRule, layer Layer, compile func(*filter.Instance) ([]Command, error)) ([]Command, error) {
	var out []Command
	for _, r := range rules {
		if LayerOf(r.inst.Rule) != layer {
			continue
		}
		cmds, err := compile(r.inst)
		if err != nil {
			return nil, err
		}
		out = append(out, cmds...)
	}
	return out, nil
}

// usesLayer reports whether any rule is compiled for layer.
func usesLayer(rules []*filter.Instance, layer Layer) bool {
	for _, inst := range rules {
		if LayerOf(inst.Rule) == layer {
			return true
		}
	}
	return false
}
