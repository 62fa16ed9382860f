package firewall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/bridgewall/internal/filter"
)

func TestEbChainSets(t *testing.T) {
	in := ebRule(filter.ProtoARP, "arp", -500, 0, filter.ActionAccept)
	in.Rule.Direction = filter.DirIn
	both := ebRule(filter.ProtoIP, "ipv4", -700, 0, filter.ActionAccept)
	both.Rule.Direction = filter.DirInOut

	incoming, outgoing := ebChainSets([]*filter.Instance{
		in,
		both,
		ebRule(filter.ProtoMAC, "", 0, 0, filter.ActionDrop),
		tcpPort(filter.DirOut, "80", filter.ActionAccept),
	})
	assert.Equal(t, chainSet{"ipv4": -700, filter.RootChain: 0}, incoming)
	assert.Equal(t, chainSet{"arp": -500, "ipv4": -700}, outgoing)
}

func TestSubChainItemsOrder(t *testing.T) {
	items, err := subChainItems("vnet0",
		chainSet{"arp": -500, "ipv4": -700, filter.RootChain: 0},
		chainSet{"mac": -800, "ipv6": -600})
	require.NoError(t, err)

	var got []string
	for _, it := range items {
		got = append(got, it.suffix)
	}
	assert.Equal(t, []string{"mac", "ipv4", "ipv6", "arp"}, got)

	_, err = subChainItems("vnet0", chainSet{"bogus": 0}, nil)
	assert.Error(t, err)
}

func TestSortRules(t *testing.T) {
	rootLate := ebRule(filter.ProtoMAC, "", 0, 300, filter.ActionDrop)
	rootEarly := ebRule(filter.ProtoMAC, "", 0, -300, filter.ActionDrop)
	raised := ebRule(filter.ProtoARP, "arp", -500, -900, filter.ActionAccept)
	kept := ebRule(filter.ProtoIP, "ipv4", -700, 100, filter.ActionAccept)

	sorted := sortRules([]*filter.Instance{kept, rootLate, raised, rootEarly})
	require.Len(t, sorted, 4)
	assert.Same(t, rootEarly, sorted[0].inst)
	assert.Same(t, rootLate, sorted[1].inst)
	assert.Same(t, raised, sorted[2].inst)
	assert.Equal(t, -500, sorted[2].priority)
	assert.Same(t, kept, sorted[3].inst)
	assert.Equal(t, 100, sorted[3].priority)
}

func TestInterleave(t *testing.T) {
	chains := []chainItem{
		{suffix: "ipv4", priority: -700, cmds: []Command{{Args: []string{"create", "ipv4"}}}},
		{suffix: "arp", priority: -500, cmds: []Command{{Args: []string{"create", "arp"}}}},
		{suffix: "stp", priority: 900, cmds: []Command{{Args: []string{"create", "stp"}}}},
	}
	rules := sortRules([]*filter.Instance{
		ebRule(filter.ProtoMAC, "", 0, -800, filter.ActionDrop),
		ebRule(filter.ProtoMAC, "", 0, 0, filter.ActionDrop),
		ebRule(filter.ProtoARP, "arp", -500, 0, filter.ActionAccept),
		tcpPort(filter.DirOut, "80", filter.ActionAccept),
	})
	compile := func(inst *filter.Instance) ([]Command, error) {
		return []Command{{Args: []string{"rule", inst.Suffix()}}}, nil
	}

	cmds, err := interleave(rules, chains, compile)
	require.NoError(t, err)

	var got []string
	for _, c := range cmds {
		got = append(got, strings.Join(c.Args, " "))
	}
	assert.Equal(t, []string{
		"rule root",
		"create ipv4",
		"create arp",
		"rule root",
		"rule arp",
		"create stp",
	}, got)

	ip, err := layerRules(rules, LayerIptables, compile)
	require.NoError(t, err)
	assert.Len(t, ip, 1)
}
