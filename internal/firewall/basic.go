package firewall

import (
	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/filter"
)

const broadcastMAC = "ff:ff:ff:ff:ff:ff"

// CanApplyBasicRules reports whether the bridge-layer tool is usable.
func (e *Engine) CanApplyBasicRules() bool {
	return e.env.Tools.Have(LayerEbtables)
}

func normalizeMAC(mac string) (string, error) {
	v, err := filter.ParseValue(filter.TypeMACAddr, mac)
	if err != nil {
		return "", errors.Wrap(err, errors.KindValidation, "interface MAC address")
	}
	return v.MAC.String(), nil
}

// applyBasic tears everything down, then runs build as one checked
// submission. On failure every bridge-layer chain of the interface is removed.
func (e *Engine) applyBasic(op, ifname string, build func(l *CommandList)) error {
	t := e.begin(op, ifname)
	if !e.CanApplyBasicRules() {
		return t.finish(toolUnavailable(LayerEbtables))
	}

	var teardown CommandList
	e.allTeardown(&teardown, ifname)
	if err := e.submit(&teardown); err != nil {
		return t.finish(err)
	}

	var l CommandList
	build(&l)
	if err := e.submit(&l); err != nil {
		t.logger.Warn("basic ruleset failed, removing bridge chains", "error", err)
		var clean CommandList
		e.cleanAllEb(&clean, ifname)
		_ = e.submit(&clean)
		return t.finish(applyFailed(ifname, err))
	}
	t.logger.Audit(op, ifname, map[string]any{"txn": t.id})
	return t.finish(nil)
}

// cleanAllEb removes both bridge-layer generations.
func (e *Engine) cleanAllEb(l *CommandList, ifname string) {
	e.tearActiveEb(l, ifname)
	e.tearTempEb(l, ifname)
}

func ebAppend(l *CommandList, chain string, args ...string) {
	l.Add(LayerEbtables, ebNat(append([]string{"-A", chain}, args...)...)...)
}

// ApplyBasicAllowRules lets the VM send only IPv4 and ARP from its own MAC address.
func (e *Engine) ApplyBasicAllowRules(ifname, mac string) error {
	mac, err := normalizeMAC(mac)
	if err != nil {
		return err
	}
	return e.applyBasic("basic_allow", ifname, func(l *CommandList) {
		chain := ebRootChain(prefixTempIn, ifname)
		ebCreateRoot(l, GenTemp, true, ifname)
		ebAppend(l, chain, "-s", "!", mac, "-j", "DROP")
		ebAppend(l, chain, "-p", "IPv4", "-j", "ACCEPT")
		ebAppend(l, chain, "-p", "ARP", "-j", "ACCEPT")
		ebAppend(l, chain, "-j", "DROP")
		ebLinkRoot(l, GenTemp, true, ifname)
		ebRenameRootChecked(l, true, ifname)
	})
}

// ApplyDHCPOnlyRules lets the VM exchange DHCP traffic only. Replies are
// accepted from servers when given, from anyone otherwise. With
// leaveTemporary the chains keep their temporary names for a later TearOldRules.
func (e *Engine) ApplyDHCPOnlyRules(ifname, mac string, servers []string, leaveTemporary bool) error {
	mac, err := normalizeMAC(mac)
	if err != nil {
		return err
	}
	for _, s := range servers {
		if _, err := filter.ParseValue(filter.TypeIPv4Addr, s); err != nil {
			return errors.Wrap(err, errors.KindValidation, "DHCP server")
		}
	}

	return e.applyBasic("dhcp_only", ifname, func(l *CommandList) {
		in := ebRootChain(prefixTempIn, ifname)
		out := ebRootChain(prefixTempOut, ifname)
		ebCreateRoot(l, GenTemp, true, ifname)
		ebCreateRoot(l, GenTemp, false, ifname)

		ebAppend(l, in, "-s", mac, "-p", "ipv4", "--ip-protocol", "udp",
			"--ip-sport", "68", "--ip-dport", "67", "-j", "ACCEPT")
		ebAppend(l, in, "-j", "DROP")

		srcs := servers
		if len(srcs) == 0 {
			srcs = []string{""}
		}
		for _, srv := range srcs {
			for _, dst := range []string{mac, broadcastMAC} {
				args := []string{"-d", dst, "-p", "ipv4", "--ip-protocol", "udp"}
				if srv != "" {
					args = append(args, "--ip-src", srv)
				}
				args = append(args, "--ip-sport", "67", "--ip-dport", "68", "-j", "ACCEPT")
				ebAppend(l, out, args...)
			}
		}
		ebAppend(l, out, "-j", "DROP")

		ebLinkRoot(l, GenTemp, true, ifname)
		ebLinkRoot(l, GenTemp, false, ifname)
		if !leaveTemporary {
			ebRenameRootChecked(l, true, ifname)
			ebRenameRootChecked(l, false, ifname)
		}
	})
}

// ApplyDropAllRules blocks all traffic of the VM in both directions.
func (e *Engine) ApplyDropAllRules(ifname string) error {
	return e.applyBasic("drop_all", ifname, func(l *CommandList) {
		ebCreateRoot(l, GenTemp, true, ifname)
		ebCreateRoot(l, GenTemp, false, ifname)
		ebAppend(l, ebRootChain(prefixTempIn, ifname), "-j", "DROP")
		ebAppend(l, ebRootChain(prefixTempOut, ifname), "-j", "DROP")
		ebLinkRoot(l, GenTemp, true, ifname)
		ebLinkRoot(l, GenTemp, false, ifname)
		ebRenameRootChecked(l, true, ifname)
		ebRenameRootChecked(l, false, ifname)
	})
}

// RemoveBasicRules removes every bridge-layer chain of the interface.
func (e *Engine) RemoveBasicRules(ifname string) error {
	t := e.begin("remove_basic", ifname)
	var l CommandList
	e.cleanAllEb(&l, ifname)
	return t.finish(e.submit(&l))
}
