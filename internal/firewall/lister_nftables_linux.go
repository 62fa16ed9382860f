//go:build linux
// +build linux

package firewall

import (
	"github.com/google/nftables"
	"github.com/google/nftables/expr"

	"grimm.is/bridgewall/internal/errors"
)

// NFTRuleReader is the subset of *nftables.Conn the lister needs.
type NFTRuleReader interface {
	GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error)
}

// NFTChainLister answers chain-children queries over netlink for hosts whose
// ebtables/iptables are the nft-backed variants. The bridge layer lives in
// the bridge family "nat" table, the IP layers in the ip/ip6 "filter" tables.
type NFTChainLister struct {
	conn NFTRuleReader
}

// NewNFTChainLister opens a netlink connection for chain queries.
func NewNFTChainLister() (*NFTChainLister, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEnvironment, "opening nftables connection")
	}
	return &NFTChainLister{conn: conn}, nil
}

// NewNFTChainListerWithConn uses an existing rule reader.
func NewNFTChainListerWithConn(conn NFTRuleReader) *NFTChainLister {
	return &NFTChainLister{conn: conn}
}

func nftTable(layer Layer) *nftables.Table {
	switch layer {
	case LayerEbtables:
		return &nftables.Table{Name: "nat", Family: nftables.TableFamilyBridge}
	case LayerIp6tables:
		return &nftables.Table{Name: "filter", Family: nftables.TableFamilyIPv6}
	}
	return &nftables.Table{Name: "filter", Family: nftables.TableFamilyIPv4}
}

// Children implements ChainLister.
func (n *NFTChainLister) Children(layer Layer, chain string) ([]string, error) {
	table := nftTable(layer)
	rules, err := n.conn.GetRules(table, &nftables.Chain{Name: chain, Table: table})
	if err != nil {
		return nil, errors.Attr(errors.Wrapf(err, errors.KindExecution, "listing rules of chain %s", chain), "layer", layer.String())
	}

	var out []string
	seen := map[string]bool{}
	for _, r := range rules {
		for _, e := range r.Exprs {
			v, ok := e.(*expr.Verdict)
			if !ok || (v.Kind != expr.VerdictJump && v.Kind != expr.VerdictGoto) {
				continue
			}
			if v.Chain != "" && !seen[v.Chain] {
				seen[v.Chain] = true
				out = append(out, v.Chain)
			}
		}
	}
	return out, nil
}
