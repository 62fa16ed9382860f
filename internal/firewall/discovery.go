package firewall

import (
	"strings"

	"grimm.is/bridgewall/internal/logging"
)

// discoverChains returns every chain reachable from roots whose name starts
// with one of the alphabet letters followed by '-'. Children come before
// their parents, so deleting in order never hits a chain still referenced
// from a chain that has not been flushed. Roots themselves are not returned.
// Chains that cannot be listed count as having no children.
func discoverChains(lister ChainLister, layer Layer, roots []string, alphabet string) []string {
	if lister == nil {
		return nil
	}
	seen := make(map[string]bool, len(roots))
	for _, r := range roots {
		seen[r] = true
	}

	var out []string
	var visit func(chain string)
	visit = func(chain string) {
		children, err := lister.Children(layer, chain)
		if err != nil {
			logging.Debug("cannot list chain", "layer", layer.String(), "chain", chain, "error", err)
			return
		}
		for _, c := range children {
			if seen[c] || !ownedChain(c, alphabet) {
				continue
			}
			seen[c] = true
			visit(c)
			out = append(out, c)
		}
	}
	for _, r := range roots {
		visit(r)
	}
	return out
}

func ownedChain(name, alphabet string) bool {
	return len(name) > 2 && name[1] == '-' && strings.IndexByte(alphabet, name[0]) >= 0
}
