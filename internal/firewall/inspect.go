package firewall

// ChainSet is one generation of an interface's chains on one layer.
type ChainSet struct {
	Layer      Layer
	Generation Generation
	// Chains lists the root chains first, then bridge-layer sub-chains.
	Chains []string
}

// Inspect reports which chains of ifname currently exist. Layers whose tool
// is missing and generations without any chain are omitted.
func (d *Driver) Inspect(ifname string) []ChainSet {
	var out []ChainSet
	_ = locked(func() error {
		out = d.engine.inspect(ifname)
		return nil
	})
	return out
}

func (e *Engine) inspect(ifname string) []ChainSet {
	exists := func(layer Layer, chain string) bool {
		_, err := e.lister.Children(layer, chain)
		return err == nil
	}

	var out []ChainSet
	for _, gen := range []Generation{GenActive, GenTemp} {
		if e.env.Tools.Have(LayerEbtables) {
			set := ChainSet{Layer: LayerEbtables, Generation: gen}
			var roots []string
			for _, incoming := range []bool{true, false} {
				root := ebRootChain(gen.prefix(incoming), ifname)
				if exists(LayerEbtables, root) {
					roots = append(roots, root)
				}
			}
			set.Chains = append(set.Chains, roots...)
			set.Chains = append(set.Chains, discoverChains(e.lister, LayerEbtables, roots, gen.alphabet())...)
			if len(set.Chains) > 0 {
				out = append(out, set)
			}
		}
		for _, layer := range ipLayers {
			if !e.env.Tools.Have(layer) {
				continue
			}
			set := ChainSet{Layer: layer, Generation: gen}
			for _, leg := range iptLegs {
				if c := leg.chain(gen, ifname); exists(layer, c) {
					set.Chains = append(set.Chains, c)
				}
			}
			if len(set.Chains) > 0 {
				out = append(out, set)
			}
		}
	}
	return out
}
