package firewall

import (
	"fmt"

	"grimm.is/bridgewall/internal/filter"
)

// compileEbtables emits the bridge-layer commands of one rule. Traffic from
// the VM (out) goes to the J chains, traffic to the VM (in) to the P chains.
// For inout rules the J leg is written with source and destination swapped.
func (c *Compiler) compileEbtables(ifname string, rule *filter.Rule, suffix string, b filter.Binding) ([]Command, error) {
	var out []Command
	if rule.Direction == filter.DirOut || rule.Direction == filter.DirInOut {
		cmd, err := ebRuleCommand(prefixTempIn, ifname, rule, suffix, b, rule.Direction == filter.DirInOut)
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	if rule.Direction == filter.DirIn || rule.Direction == filter.DirInOut {
		cmd, err := ebRuleCommand(prefixTempOut, ifname, rule, suffix, b, false)
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, nil
}

func swap(reverse bool, a, b string) (string, string) {
	if reverse {
		return b, a
	}
	return a, b
}

func ebRuleCommand(prefix byte, ifname string, rule *filter.Rule, suffix string, b filter.Binding, reverse bool) (Command, error) {
	a := &args{b: b}
	a.add(ebNat("-A", ebChain(prefix, ifname, suffix))...)

	switch rule.Protocol {
	case filter.ProtoNone:

	case filter.ProtoMAC:
		ebEthHeader(a, &rule.Eth, reverse)
		if it := rule.EtherType; it != nil {
			a.add("-p")
			a.add(negate(it)...)
			a.add(a.renderHex(it))
		}

	case filter.ProtoVLAN:
		ebEthHeader(a, &rule.Eth, reverse)
		a.add("-p", "0x8100")
		ebItem(a, "--vlan-id", rule.VLANID, false)
		// ebtables reads --vlan-encap as base 16 with or without a 0x prefix.
		ebItem(a, "--vlan-encap", rule.VLANEncap, true)

	case filter.ProtoSTP:
		if reverse && rule.Eth.SrcMAC != nil {
			return Command{}, compileErrorf("STP filtering in inout direction with source MAC address set is not supported")
		}
		ebEthHeader(a, &rule.Eth, reverse)
		a.add("-d", stpDestination)
		s := &rule.STP
		ebItem(a, "--stp-type", s.Type, false)
		ebItem(a, "--stp-flags", s.Flags, false)
		ebPair(a, "--stp-root-pri", s.RootPriLow, s.RootPriHigh, ":")
		ebPair(a, "--stp-root-addr", s.RootAddr, s.RootAddrMask, "/")
		ebPair(a, "--stp-root-cost", s.RootCostLow, s.RootCostHigh, ":")
		ebPair(a, "--stp-sender-prio", s.SenderPriLow, s.SenderPriHigh, ":")
		ebPair(a, "--stp-sender-addr", s.SenderAddr, s.SenderAddrMask, "/")
		ebPair(a, "--stp-port", s.PortLow, s.PortHigh, ":")
		ebPair(a, "--stp-msg-age", s.MsgAgeLow, s.MsgAgeHigh, ":")
		ebPair(a, "--stp-max-age", s.MaxAgeLow, s.MaxAgeHigh, ":")
		ebPair(a, "--stp-hello-time", s.HelloTimeLow, s.HelloTimeHigh, ":")
		ebPair(a, "--stp-forward-delay", s.ForwardDelayLow, s.ForwardDelayHigh, ":")

	case filter.ProtoARP, filter.ProtoRARP:
		ebEthHeader(a, &rule.Eth, reverse)
		etherType := 0x0806
		if rule.Protocol == filter.ProtoRARP {
			etherType = 0x8035
		}
		a.add("-p", fmt.Sprintf("0x%x", etherType))
		ebARP(a, &rule.ARP, reverse)

	case filter.ProtoIP:
		ebEthHeader(a, &rule.Eth, reverse)
		a.add("-p", "ipv4")
		ebIPHeader(a, rule, reverse, "--ip")
		if it := rule.IP.DSCP; it != nil {
			a.add("--ip-tos")
			a.add(negate(it)...)
			a.add(a.renderHex(it))
		}

	case filter.ProtoIPv6:
		ebEthHeader(a, &rule.Eth, reverse)
		a.add("-p", "ipv6")
		ebIPHeader(a, rule, reverse, "--ip6")

	default:
		return Command{}, compileErrorf("protocol %s cannot be filtered on the bridge layer", rule.Protocol)
	}

	target, err := ebTarget(prefix, ifname, rule)
	if err != nil {
		return Command{}, err
	}
	a.add("-j", target)

	if a.err != nil {
		return Command{}, a.err
	}
	return Command{Layer: LayerEbtables, Args: a.list}, nil
}

func ebTarget(prefix byte, ifname string, rule *filter.Rule) (string, error) {
	switch rule.Action {
	case filter.ActionAccept:
		return "ACCEPT", nil
	case filter.ActionDrop, filter.ActionReject:
		// ebtables has no reject target
		return "DROP", nil
	case filter.ActionReturn:
		return "RETURN", nil
	case filter.ActionContinue:
		return "CONTINUE", nil
	case filter.ActionJump:
		return ebChain(prefix, ifname, rule.JumpChain), nil
	}
	return "", compileErrorf("unsupported action %s", rule.Action)
}

// ebItem emits "flag [!] value".
func ebItem(a *args, flag string, it *filter.Item, hex bool) {
	if it == nil {
		return
	}
	a.add(flag)
	a.add(negate(it)...)
	if hex {
		a.add(a.renderHex(it))
	} else {
		a.add(a.render(it))
	}
}

// ebPair emits "flag [!] value[sep second]" for ranges and masks.
func ebPair(a *args, flag string, it, second *filter.Item, sep string) {
	if it == nil {
		return
	}
	a.add(flag)
	a.add(negate(it)...)
	a.add(a.withSuffix(it, sep, second))
}

func ebEthHeader(a *args, eth *filter.EthMatch, reverse bool) {
	src, dst := swap(reverse, "-s", "-d")
	ebPair(a, src, eth.SrcMAC, eth.SrcMACMask, "/")
	ebPair(a, dst, eth.DstMAC, eth.DstMACMask, "/")
}

func ebARP(a *args, arp *filter.ARPMatch, reverse bool) {
	ebItem(a, "--arp-htype", arp.HWType, false)
	ebItem(a, "--arp-opcode", arp.Opcode, false)
	ebItem(a, "--arp-ptype", arp.ProtocolType, true)

	ipSrc, ipDst := swap(reverse, "--arp-ip-src", "--arp-ip-dst")
	ebARPAddr(a, ipSrc, arp.SrcIP, arp.SrcIPMask)
	ebARPAddr(a, ipDst, arp.DstIP, arp.DstIPMask)

	macSrc, macDst := swap(reverse, "--arp-mac-src", "--arp-mac-dst")
	ebItem(a, macSrc, arp.SrcMAC, false)
	ebItem(a, macDst, arp.DstMAC, false)

	if it := arp.Gratuitous; it != nil && a.value(it).Bool {
		a.add(negate(it)...)
		a.add("--arp-gratuitous")
	}
}

// ebARPAddr always renders an explicit prefix length, /32 when no mask is given.
func ebARPAddr(a *args, flag string, addr, mask *filter.Item) {
	if addr == nil {
		return
	}
	bits := "32"
	if mask != nil {
		bits = a.render(mask)
	}
	a.add(flag)
	a.add(negate(addr)...)
	a.add(a.render(addr) + "/" + bits)
}

// ebIPHeader emits addresses, protocol and ports with the --ip or --ip6 option family.
func ebIPHeader(a *args, rule *filter.Rule, reverse bool, family string) {
	src, dst := swap(reverse, family+"-source", family+"-destination")
	ebPair(a, src, rule.IP.SrcAddr, rule.IP.SrcMask, "/")
	ebPair(a, dst, rule.IP.DstAddr, rule.IP.DstMask, "/")
	ebItem(a, family+"-protocol", rule.IP.Protocol, false)

	sport, dport := swap(reverse, family+"-source-port", family+"-destination-port")
	ebPair(a, sport, rule.Ports.SrcStart, rule.Ports.SrcEnd, ":")
	ebPair(a, dport, rule.Ports.DstStart, rule.Ports.DstEnd, ":")
}
