//go:build linux

package network

import (
	"errors"
	"net"

	"github.com/vishvananda/netlink"
)

// Netlinker abstracts the netlink calls the inspector needs.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	LinkByIndex(index int) (netlink.Link, error)
}

// RealNetlinker uses the netlink package.
type RealNetlinker struct{}

// LinkByName retrieves a link by name.
func (RealNetlinker) LinkByName(name string) (netlink.Link, error) {
	return netlink.LinkByName(name)
}

// LinkByIndex retrieves a link by index.
func (RealNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	return netlink.LinkByIndex(index)
}

// NetlinkInspector implements LinkInspector over netlink.
type NetlinkInspector struct {
	nl Netlinker
}

// NewLinkInspector returns an inspector using the host netlink socket.
func NewLinkInspector() *NetlinkInspector {
	return &NetlinkInspector{nl: RealNetlinker{}}
}

// NewLinkInspectorWith returns an inspector over nl.
func NewLinkInspectorWith(nl Netlinker) *NetlinkInspector {
	return &NetlinkInspector{nl: nl}
}

// Inspect implements LinkInspector. A missing link is not an error.
func (i *NetlinkInspector) Inspect(ifname string) (LinkState, error) {
	link, err := i.nl.LinkByName(ifname)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return LinkState{}, nil
		}
		return LinkState{}, err
	}

	attrs := link.Attrs()
	st := LinkState{Exists: true, Up: attrs.Flags&net.FlagUp != 0}
	if attrs.MasterIndex > 0 {
		master, err := i.nl.LinkByIndex(attrs.MasterIndex)
		if err != nil {
			return st, err
		}
		if master.Type() == "bridge" {
			st.Bridge = master.Attrs().Name
		}
	}
	return st, nil
}
