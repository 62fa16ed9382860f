package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/bridgewall/internal/firewall"
)

type staticInspector map[string][]firewall.ChainSet

func (s staticInspector) Inspect(ifname string) []firewall.ChainSet {
	return s[ifname]
}

func TestModelShowsGenerations(t *testing.T) {
	insp := staticInspector{
		"vnet0": {
			{Layer: firewall.LayerEbtables, Generation: firewall.GenActive, Chains: []string{"libvirt-I-vnet0", "I-vnet0-ipv4"}},
			{Layer: firewall.LayerIptables, Generation: firewall.GenTemp, Chains: []string{"FP-vnet0"}},
		},
	}
	m := NewModel(insp, []string{"vnet0", "vnet1"}, time.Second)
	assert.Contains(t, m.View(), "waiting for first listing")

	msg := m.snapshot()()
	next, cmd := m.Update(msg)
	require.NotNil(t, cmd, "a snapshot schedules the next tick")
	m = next.(Model)

	view := m.View()
	assert.Contains(t, view, "libvirt-I-vnet0 I-vnet0-ipv4")
	assert.Contains(t, view, "FP-vnet0")
	assert.Contains(t, view, "temporary")
	assert.Contains(t, view, "no chains installed")
	assert.Contains(t, view, "updated ")
}

func TestModelKeys(t *testing.T) {
	m := NewModel(staticInspector{}, []string{"vnet0"}, time.Second)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.NotNil(t, cmd)
	assert.True(t, next.(Model).loading)
	assert.IsType(t, snapshotMsg{}, cmd())
}
