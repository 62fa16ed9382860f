package firewall

import (
	"grimm.is/bridgewall/internal/filter"
)

// Connection-state sets of the automatic state match.
const (
	stateOriginating = "NEW,ESTABLISHED"
	stateReplying    = "ESTABLISHED"
)

// ipLeg is the per-root-chain variant of an IP-layer rule.
type ipLeg struct {
	chain string
	// directionIn swaps source and destination fields.
	directionIn bool
	accept      string
	match       []string
	// defMatch marks match as the automatic state match.
	defMatch    bool
	maySkipICMP bool
}

// compileIptables emits one command per root chain leg: forwarded traffic
// from the VM, forwarded traffic to the VM and traffic to the host.
func (c *Compiler) compileIptables(ifname string, rule *filter.Rule, b filter.Binding, layer Layer) ([]Command, error) {
	var legs []ipLeg
	if !rule.NoStateMatch && rule.State != 0 {
		legs = c.stateCtrlLegs(ifname, rule)
	} else {
		legs = c.defaultLegs(ifname, rule)
	}

	var out []Command
	for _, leg := range legs {
		cmd, ok, err := c.ipRuleCommand(layer, leg, rule, b)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cmd)
		}
	}
	return out, nil
}

func ruleDirection(rule *filter.Rule) (directionIn, inout bool) {
	inout = rule.Direction == filter.DirInOut
	return rule.Direction == filter.DirIn || inout, inout
}

func (c *Compiler) defaultLegs(ifname string, rule *filter.Rule) []ipLeg {
	directionIn, inout := ruleDirection(rule)
	needState := !inout && !rule.NoStateMatch

	state := func(in bool) []string {
		if !needState {
			return nil
		}
		if in {
			return c.env.stateMatch(stateReplying)
		}
		return c.env.stateMatch(stateOriginating)
	}

	return []ipLeg{
		{
			chain:       iptRootChain('F', prefixTempIn, ifname),
			directionIn: directionIn,
			accept:      "RETURN",
			match:       state(directionIn),
			defMatch:    true,
			maySkipICMP: directionIn || inout,
		},
		{
			chain:       iptRootChain('F', prefixTempOut, ifname),
			directionIn: !directionIn,
			accept:      "ACCEPT",
			match:       state(!directionIn),
			defMatch:    true,
			maySkipICMP: !directionIn || inout,
		},
		{
			chain:       iptRootChain('H', prefixTempIn, ifname),
			directionIn: directionIn,
			accept:      "RETURN",
			match:       state(directionIn),
			defMatch:    true,
			maySkipICMP: directionIn,
		},
	}
}

// stateCtrlLegs handles rules with an explicit state set. Legs running
// against the rule's direction are dropped, the others match the given states.
func (c *Compiler) stateCtrlLegs(ifname string, rule *filter.Rule) []ipLeg {
	directionIn, inout := ruleDirection(rule)
	match := []string{"-m", "state", "--state", rule.State.String()}

	var legs []ipLeg
	if !directionIn || inout {
		legs = append(legs, ipLeg{
			chain:       iptRootChain('F', prefixTempIn, ifname),
			directionIn: directionIn,
			accept:      "RETURN",
			match:       match,
			maySkipICMP: directionIn || inout,
		})
	}
	if directionIn {
		legs = append(legs, ipLeg{
			chain:       iptRootChain('F', prefixTempOut, ifname),
			directionIn: !directionIn,
			accept:      "ACCEPT",
			match:       match,
			maySkipICMP: !directionIn || inout,
		})
	}
	if !directionIn || inout {
		legs = append(legs, ipLeg{
			chain:       iptRootChain('H', prefixTempIn, ifname),
			directionIn: directionIn,
			accept:      "RETURN",
			match:       match,
			maySkipICMP: directionIn,
		})
	}
	return legs
}

// ipRuleCommand renders one leg. ok is false when the rule has nothing to
// contribute to this leg.
func (c *Compiler) ipRuleCommand(layer Layer, leg ipLeg, rule *filter.Rule, b filter.Binding) (cmd Command, ok bool, err error) {
	a := &args{b: b}
	a.add("-A", leg.chain, "-p", rule.Protocol.IptablesName())
	base := len(a.list)

	srcMACSkipped := false
	if it := rule.Eth.SrcMAC; it != nil {
		if leg.directionIn {
			srcMACSkipped = true
		} else {
			a.add("-m", "mac")
			a.add(negate(it)...)
			a.add("--mac-source", a.render(it))
		}
	}

	var after []string
	skipRule, skipMatch := false, false
	ipHeader(a, &rule.IP, leg.directionIn)

	ip := &rule.IP
	if ip.IPSet != nil && ip.IPSetFlags != nil {
		name := a.render(ip.IPSet)
		flags := filter.RenderIPSetFlags(a.value(ip.IPSetFlags), leg.directionIn)
		after = append(after, "-m", "set", "--match-set", name, flags)
	}
	if it := ip.ConnLimitAbove; it != nil {
		if leg.directionIn {
			// connection limits only apply to connections the VM opens
			skipRule = true
		} else {
			after = append(after, "-m", "connlimit")
			after = append(after, negate(it)...)
			after = append(after, "--connlimit-above", a.render(it))
			skipMatch = true
		}
	}
	if rule.Comment != "" {
		comment := rule.Comment
		if len(comment) > filter.MaxCommentLength {
			comment = comment[:filter.MaxCommentLength]
		}
		after = append(after, "-m", "comment", "--comment", comment)
	}

	hasICMPType := false
	switch rule.Protocol {
	case filter.ProtoTCP, filter.ProtoTCPoIPv6:
		if it := rule.TCPFlags; it != nil {
			v := a.value(it)
			a.add(negate(it)...)
			a.add("--tcp-flags", filter.FormatTCPFlags(v.Mask), filter.FormatTCPFlags(v.Flags))
		}
		portMatch(a, &rule.Ports, leg.directionIn)
		if it := rule.TCPOption; it != nil {
			a.add(negate(it)...)
			a.add("--tcp-option", a.render(it))
		}

	case filter.ProtoUDP, filter.ProtoUDPoIPv6, filter.ProtoSCTP, filter.ProtoSCTPoIPv6:
		portMatch(a, &rule.Ports, leg.directionIn)

	case filter.ProtoICMP, filter.ProtoICMPv6:
		if it := rule.ICMPType; it != nil {
			hasICMPType = true
			if leg.maySkipICMP {
				return Command{}, false, nil
			}
			flag := "--icmp-type"
			if rule.Protocol == filter.ProtoICMPv6 {
				flag = "--icmpv6-type"
			}
			a.add(negate(it)...)
			a.add(flag, a.withSuffix(it, "/", rule.ICMPCode))
		}

	case filter.ProtoUDPLite, filter.ProtoUDPLiteoIPv6, filter.ProtoESP, filter.ProtoESPoIPv6,
		filter.ProtoAH, filter.ProtoAHoIPv6, filter.ProtoIGMP, filter.ProtoAll, filter.ProtoAlloIPv6:

	default:
		return Command{}, false, compileErrorf("protocol %s cannot be filtered on the IP layer", rule.Protocol)
	}

	if a.err != nil {
		return Command{}, false, a.err
	}
	if (srcMACSkipped && len(a.list) == base) || skipRule {
		return Command{}, false, nil
	}

	target := leg.accept
	if rule.Action != filter.ActionAccept {
		target, err = ipTarget(rule.Action)
		if err != nil {
			return Command{}, false, err
		}
		skipMatch = leg.defMatch
	}

	if leg.match != nil && !skipMatch {
		a.add(leg.match...)
		if leg.defMatch && !hasICMPType {
			a.add(c.env.directionMatch(leg.directionIn, rule.Direction)...)
		}
	}
	a.add(after...)
	a.add("-j", target)

	return Command{Layer: layer, Args: a.list}, true, nil
}

func ipTarget(action filter.Action) (string, error) {
	switch action {
	case filter.ActionDrop:
		return "DROP", nil
	case filter.ActionReject:
		return "REJECT", nil
	case filter.ActionReturn:
		return "RETURN", nil
	case filter.ActionAccept:
		return "ACCEPT", nil
	}
	return "", compileErrorf("action %s is not supported on the IP layer", action)
}

// ipHeader emits address and address range matches plus DSCP.
func ipHeader(a *args, ip *filter.IPMatch, directionIn bool) {
	src, dst := swap(directionIn, "--source", "--destination")
	srcRange, dstRange := swap(directionIn, "--src-range", "--dst-range")

	addrMatch(a, src, srcRange, ip.SrcAddr, ip.SrcMask, ip.SrcAddrFrom, ip.SrcAddrTo)
	addrMatch(a, dst, dstRange, ip.DstAddr, ip.DstMask, ip.DstAddrFrom, ip.DstAddrTo)

	if it := ip.DSCP; it != nil {
		a.add("-m", "dscp")
		a.add(negate(it)...)
		a.add("--dscp", a.render(it))
	}
}

func addrMatch(a *args, flag, rangeFlag string, addr, mask, from, to *filter.Item) {
	switch {
	case addr != nil:
		a.add(negate(addr)...)
		a.add(flag, a.withSuffix(addr, "/", mask))
	case from != nil:
		a.add("-m", "iprange")
		a.add(negate(from)...)
		a.add(rangeFlag, a.withSuffix(from, "-", to))
	}
}

func portMatch(a *args, p *filter.PortMatch, directionIn bool) {
	sport, dport := swap(directionIn, "--sport", "--dport")
	if it := p.SrcStart; it != nil {
		a.add(negate(it)...)
		a.add(sport, a.withSuffix(it, ":", p.SrcEnd))
	}
	if it := p.DstStart; it != nil {
		a.add(negate(it)...)
		a.add(dport, a.withSuffix(it, ":", p.DstEnd))
	}
}

// stateMatch renders the automatic state match in the syntax the installed tool prefers.
func (e *Environment) stateMatch(states string) []string {
	if e.StateMatch == StateMatchConntrack {
		return []string{"-m", "conntrack", "--ctstate", states}
	}
	return []string{"-m", "state", "--state", states}
}

// directionMatch pins the automatic state match to the connection direction.
// Nothing is emitted when the kernel polarity is unknown or the rule is bidirectional.
func (e *Environment) directionMatch(directionIn bool, dir filter.Direction) []string {
	switch e.CtDir {
	case CtDirUnknown:
		return nil
	case CtDirCorrected:
		directionIn = !directionIn
	}
	if dir == filter.DirInOut {
		return nil
	}
	d := "Reply"
	if directionIn {
		d = "Original"
	}
	return []string{"-m", "conntrack", "--ctdir", d}
}
