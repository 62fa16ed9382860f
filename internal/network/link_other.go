//go:build !linux

package network

import "errors"

// NetlinkInspector is unavailable off linux.
type NetlinkInspector struct{}

// NewLinkInspector returns an inspector that always fails.
func NewLinkInspector() *NetlinkInspector {
	return &NetlinkInspector{}
}

// Inspect implements LinkInspector.
func (*NetlinkInspector) Inspect(string) (LinkState, error) {
	return LinkState{}, errors.New("link inspection requires linux")
}
