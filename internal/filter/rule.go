package filter

import (
	"strings"

	"grimm.is/bridgewall/internal/errors"
)

// Priority bounds for rules and chains.
const (
	MinPriority = -1000
	MaxPriority = 1000
)

// RootChain is the chain suffix addressing an interface's root chain.
const RootChain = "root"

// EthMatch holds the Ethernet header matchers.
type EthMatch struct {
	SrcMAC     *Item
	SrcMACMask *Item
	DstMAC     *Item
	DstMACMask *Item
}

// STPMatch holds the spanning-tree BPDU matchers. Low/High pairs form ranges.
type STPMatch struct {
	Type             *Item
	Flags            *Item
	RootPriLow       *Item
	RootPriHigh      *Item
	RootAddr         *Item
	RootAddrMask     *Item
	RootCostLow      *Item
	RootCostHigh     *Item
	SenderPriLow     *Item
	SenderPriHigh    *Item
	SenderAddr       *Item
	SenderAddrMask   *Item
	PortLow          *Item
	PortHigh         *Item
	MsgAgeLow        *Item
	MsgAgeHigh       *Item
	MaxAgeLow        *Item
	MaxAgeHigh       *Item
	HelloTimeLow     *Item
	HelloTimeHigh    *Item
	ForwardDelayLow  *Item
	ForwardDelayHigh *Item
}

// ARPMatch holds ARP/RARP payload matchers.
type ARPMatch struct {
	HWType       *Item
	Opcode       *Item
	ProtocolType *Item
	SrcIP        *Item
	SrcIPMask    *Item
	DstIP        *Item
	DstIPMask    *Item
	SrcMAC       *Item
	DstMAC       *Item
	Gratuitous   *Item
}

// IPMatch holds IP header matchers shared by the bridge and IP layers.
type IPMatch struct {
	SrcAddr     *Item
	SrcMask     *Item
	DstAddr     *Item
	DstMask     *Item
	SrcAddrFrom *Item
	SrcAddrTo   *Item
	DstAddrFrom *Item
	DstAddrTo   *Item
	// Protocol is the IP protocol number matched on the bridge layer.
	Protocol       *Item
	DSCP           *Item
	ConnLimitAbove *Item
	IPSet          *Item
	IPSetFlags     *Item
}

// PortMatch holds transport port ranges.
type PortMatch struct {
	SrcStart *Item
	SrcEnd   *Item
	DstStart *Item
	DstEnd   *Item
}

// Rule is one declarative match/action rule.
type Rule struct {
	Protocol  Protocol
	Direction Direction
	Action    Action
	// JumpChain is the sub-chain suffix an ActionJump rule continues in.
	JumpChain string
	Priority  int
	// NoStateMatch disables the automatic connection-state match.
	NoStateMatch bool
	// State, when non-zero, replaces the automatic state match with an explicit set.
	State   StateFlags
	Comment string

	Eth EthMatch
	// EtherType is the protocol id for ProtoMAC rules.
	EtherType *Item
	VLANID    *Item
	VLANEncap *Item
	STP       STPMatch
	ARP       ARPMatch
	IP        IPMatch
	Ports     PortMatch
	TCPFlags  *Item
	TCPOption *Item
	ICMPType  *Item
	ICMPCode  *Item
}

// Instance binds a rule to the chain it is compiled into and its variable source.
type Instance struct {
	Rule *Rule
	// ChainSuffix is RootChain or a protocol-prefixed sub-chain name such as "ipv4" or "arp-spoofing".
	ChainSuffix   string
	ChainPriority int
	Vars          Combinations
}

// Suffix returns the chain suffix, defaulting to the root chain.
func (in *Instance) Suffix() string {
	if in.ChainSuffix == "" {
		return RootChain
	}
	return in.ChainSuffix
}

// InRootChain reports whether the instance targets the interface root chain.
func (in *Instance) InRootChain() bool {
	return in.Suffix() == RootChain
}

// Items returns every non-nil matcher of the rule.
func (r *Rule) Items() []*Item {
	all := []*Item{
		r.Eth.SrcMAC, r.Eth.SrcMACMask, r.Eth.DstMAC, r.Eth.DstMACMask,
		r.EtherType, r.VLANID, r.VLANEncap,
		r.STP.Type, r.STP.Flags, r.STP.RootPriLow, r.STP.RootPriHigh,
		r.STP.RootAddr, r.STP.RootAddrMask, r.STP.RootCostLow, r.STP.RootCostHigh,
		r.STP.SenderPriLow, r.STP.SenderPriHigh, r.STP.SenderAddr, r.STP.SenderAddrMask,
		r.STP.PortLow, r.STP.PortHigh, r.STP.MsgAgeLow, r.STP.MsgAgeHigh,
		r.STP.MaxAgeLow, r.STP.MaxAgeHigh, r.STP.HelloTimeLow, r.STP.HelloTimeHigh,
		r.STP.ForwardDelayLow, r.STP.ForwardDelayHigh,
		r.ARP.HWType, r.ARP.Opcode, r.ARP.ProtocolType, r.ARP.SrcIP, r.ARP.SrcIPMask,
		r.ARP.DstIP, r.ARP.DstIPMask, r.ARP.SrcMAC, r.ARP.DstMAC, r.ARP.Gratuitous,
		r.IP.SrcAddr, r.IP.SrcMask, r.IP.DstAddr, r.IP.DstMask,
		r.IP.SrcAddrFrom, r.IP.SrcAddrTo, r.IP.DstAddrFrom, r.IP.DstAddrTo,
		r.IP.Protocol, r.IP.DSCP, r.IP.ConnLimitAbove, r.IP.IPSet, r.IP.IPSetFlags,
		r.Ports.SrcStart, r.Ports.SrcEnd, r.Ports.DstStart, r.Ports.DstEnd,
		r.TCPFlags, r.TCPOption, r.ICMPType, r.ICMPCode,
	}
	out := all[:0]
	for _, it := range all {
		if it != nil {
			out = append(out, it)
		}
	}
	return out
}

// Variables returns the distinct variable names the rule references.
func (r *Rule) Variables() []string {
	seen := map[string]bool{}
	var names []string
	for _, it := range r.Items() {
		if it.Var != "" && !seen[it.Var] {
			seen[it.Var] = true
			names = append(names, it.Var)
		}
	}
	return names
}

// Validate checks the rule-level constraints that do not depend on a binding.
func (r *Rule) Validate() error {
	if r.Priority < MinPriority || r.Priority > MaxPriority {
		return errors.Errorf(errors.KindValidation, "priority %d outside [%d, %d]", r.Priority, MinPriority, MaxPriority)
	}
	if _, ok := protocolNames[r.Protocol]; !ok {
		return errors.Errorf(errors.KindValidation, "unknown protocol %d", int(r.Protocol))
	}
	if r.Action == ActionJump && r.JumpChain == "" {
		return errors.New(errors.KindValidation, "jump action requires a target chain")
	}
	if r.Protocol == ProtoIGMP && r.Ports != (PortMatch{}) {
		return errors.New(errors.KindValidation, "igmp rules cannot match ports")
	}
	if strings.ContainsAny(r.Comment, "\n\r") {
		return errors.New(errors.KindValidation, "comment must be a single line")
	}
	return nil
}
