//go:build !linux
// +build !linux

package firewall

import (
	"grimm.is/bridgewall/internal/errors"
)

// NFTChainLister is only available on Linux.
type NFTChainLister struct{}

// NewNFTChainLister reports that netlink chain queries are unsupported.
func NewNFTChainLister() (*NFTChainLister, error) {
	return nil, errors.New(errors.KindEnvironment, "nftables chain discovery requires linux")
}

// Children implements ChainLister.
func (n *NFTChainLister) Children(layer Layer, chain string) ([]string, error) {
	return nil, errors.New(errors.KindEnvironment, "nftables chain discovery requires linux")
}
