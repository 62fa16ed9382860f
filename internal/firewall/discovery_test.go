package firewall

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapLister map[string][]string

func (m mapLister) Children(_ Layer, chain string) ([]string, error) {
	children, ok := m[chain]
	if !ok {
		return nil, fmt.Errorf("no chain %s", chain)
	}
	return children, nil
}

func TestDiscoverChainsChildrenFirst(t *testing.T) {
	lister := mapLister{
		"libvirt-I-vnet0":    {"I-vnet0-ipv4", "I-vnet0-arp", "DROP", "libvirt-I-vnet0"},
		"libvirt-O-vnet0":    {"O-vnet0-ipv4"},
		"I-vnet0-ipv4":       {"I-vnet0-ipv4-spoof", "ACCEPT"},
		"I-vnet0-ipv4-spoof": {},
		"I-vnet0-arp":        {"I-vnet0-ipv4-spoof", "J-vnet0-arp"},
		"O-vnet0-ipv4":       {},
	}
	got := discoverChains(lister, LayerEbtables,
		[]string{"libvirt-I-vnet0", "libvirt-O-vnet0"}, GenActive.alphabet())
	assert.Equal(t, []string{"I-vnet0-ipv4-spoof", "I-vnet0-ipv4", "I-vnet0-arp", "O-vnet0-ipv4"}, got)
}

func TestDiscoverChainsToleratesMissingChains(t *testing.T) {
	assert.Empty(t, discoverChains(mapLister{}, LayerEbtables, []string{"libvirt-J-vnet0"}, "JP"))
	assert.Nil(t, discoverChains(nil, LayerEbtables, []string{"libvirt-J-vnet0"}, "JP"))
}

func TestCLIChainLister(t *testing.T) {
	sim := newNetfilterSim()
	var l CommandList
	ebCreateRoot(&l, GenTemp, true, "vnet0")
	cmds, err := ebSubChainCommands(GenTemp, true, "vnet0", "ipv4")
	require.NoError(t, err)
	l.Append(cmds...)
	l.Add(LayerIptables, "-N", "FJ-vnet0")
	l.Add(LayerIptables, "-A", "FORWARD", "-g", "FJ-vnet0")
	require.NoError(t, NewDirectExecutor(sim, simTools, nil).Apply(l.Commands()))

	lister := NewCLIChainLister(sim, simTools)
	children, err := lister.Children(LayerEbtables, "libvirt-J-vnet0")
	require.NoError(t, err)
	assert.Equal(t, []string{"J-vnet0-ipv4"}, children)

	children, err = lister.Children(LayerIptables, "FORWARD")
	require.NoError(t, err)
	assert.Equal(t, []string{"FJ-vnet0"}, children)

	_, err = lister.Children(LayerEbtables, "missing")
	assert.Error(t, err)

	_, err = NewCLIChainLister(sim, Tools{}).Children(LayerEbtables, "libvirt-J-vnet0")
	assert.Error(t, err)
}

func TestParseJumpTargets(t *testing.T) {
	lines := []string{
		"-A FORWARD -j libvirt-in",
		"-p 0x0800 -j I-vnet0-ipv4",
		"-m physdev --physdev-in vnet0 -g FI-vnet0",
		"-A FORWARD -j libvirt-in",
	}
	assert.Equal(t, []string{"libvirt-in", "I-vnet0-ipv4", "FI-vnet0"}, parseJumpTargets(lines))
}
