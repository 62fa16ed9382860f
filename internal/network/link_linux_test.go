//go:build linux

package network

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
)

type fakeNetlinker struct {
	byName  map[string]netlink.Link
	byIndex map[int]netlink.Link
	err     error
}

func (f *fakeNetlinker) LinkByName(name string) (netlink.Link, error) {
	if f.err != nil {
		return nil, f.err
	}
	if l, ok := f.byName[name]; ok {
		return l, nil
	}
	return nil, netlink.LinkNotFoundError{}
}

func (f *fakeNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	if l, ok := f.byIndex[index]; ok {
		return l, nil
	}
	return nil, netlink.LinkNotFoundError{}
}

func TestNetlinkInspector(t *testing.T) {
	br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: "virbr0", Index: 3}}
	tap := &netlink.Tuntap{LinkAttrs: netlink.LinkAttrs{Name: "vnet0", Index: 7, MasterIndex: 3, Flags: net.FlagUp}}
	lone := &netlink.Tuntap{LinkAttrs: netlink.LinkAttrs{Name: "vnet1", Index: 8}}

	nl := &fakeNetlinker{
		byName:  map[string]netlink.Link{"vnet0": tap, "vnet1": lone},
		byIndex: map[int]netlink.Link{3: br},
	}
	insp := NewLinkInspectorWith(nl)

	st, err := insp.Inspect("vnet0")
	require.NoError(t, err)
	assert.Equal(t, LinkState{Exists: true, Up: true, Bridge: "virbr0"}, st)

	st, err = insp.Inspect("vnet1")
	require.NoError(t, err)
	assert.Equal(t, LinkState{Exists: true}, st)

	st, err = insp.Inspect("vnet9")
	require.NoError(t, err)
	assert.False(t, st.Exists)

	nl.err = errors.New("netlink socket closed")
	_, err = insp.Inspect("vnet0")
	assert.Error(t, err)
}
