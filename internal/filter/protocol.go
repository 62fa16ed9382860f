package filter

import (
	"strings"

	"grimm.is/bridgewall/internal/errors"
)

// Protocol identifies which header layout a rule matches on.
type Protocol int

const (
	ProtoNone Protocol = iota
	ProtoMAC
	ProtoVLAN
	ProtoSTP
	ProtoARP
	ProtoRARP
	ProtoIP
	ProtoIPv6
	ProtoTCP
	ProtoICMP
	ProtoIGMP
	ProtoUDP
	ProtoUDPLite
	ProtoESP
	ProtoAH
	ProtoSCTP
	ProtoAll
	ProtoTCPoIPv6
	ProtoICMPv6
	ProtoUDPoIPv6
	ProtoUDPLiteoIPv6
	ProtoESPoIPv6
	ProtoAHoIPv6
	ProtoSCTPoIPv6
	ProtoAlloIPv6
)

var protocolNames = map[Protocol]string{
	ProtoNone:         "none",
	ProtoMAC:          "mac",
	ProtoVLAN:         "vlan",
	ProtoSTP:          "stp",
	ProtoARP:          "arp",
	ProtoRARP:         "rarp",
	ProtoIP:           "ip",
	ProtoIPv6:         "ipv6",
	ProtoTCP:          "tcp",
	ProtoICMP:         "icmp",
	ProtoIGMP:         "igmp",
	ProtoUDP:          "udp",
	ProtoUDPLite:      "udplite",
	ProtoESP:          "esp",
	ProtoAH:           "ah",
	ProtoSCTP:         "sctp",
	ProtoAll:          "all",
	ProtoTCPoIPv6:     "tcp-ipv6",
	ProtoICMPv6:       "icmpv6",
	ProtoUDPoIPv6:     "udp-ipv6",
	ProtoUDPLiteoIPv6: "udplite-ipv6",
	ProtoESPoIPv6:     "esp-ipv6",
	ProtoAHoIPv6:      "ah-ipv6",
	ProtoSCTPoIPv6:    "sctp-ipv6",
	ProtoAlloIPv6:     "all-ipv6",
}

func (p Protocol) String() string {
	if s, ok := protocolNames[p]; ok {
		return s
	}
	return "unknown"
}

// ParseProtocol maps a protocol name to its tag.
func ParseProtocol(s string) (Protocol, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range protocolNames {
		if name == s {
			return p, nil
		}
	}
	return ProtoNone, errors.Errorf(errors.KindValidation, "unknown protocol %q", s)
}

// IsEthernet reports whether the rule is compiled for the bridge layer.
func (p Protocol) IsEthernet() bool {
	return p >= ProtoNone && p <= ProtoIPv6
}

// IsIPv4 reports whether the rule is compiled for the IPv4 layer.
func (p Protocol) IsIPv4() bool {
	return p >= ProtoTCP && p <= ProtoAll
}

// IsIPv6 reports whether the rule is compiled for the IPv6 layer.
func (p Protocol) IsIPv6() bool {
	return p >= ProtoTCPoIPv6 && p <= ProtoAlloIPv6
}

// IptablesName returns the -p argument for IP-layer protocols.
func (p Protocol) IptablesName() string {
	switch p {
	case ProtoTCP, ProtoTCPoIPv6:
		return "tcp"
	case ProtoUDP, ProtoUDPoIPv6:
		return "udp"
	case ProtoUDPLite, ProtoUDPLiteoIPv6:
		return "udplite"
	case ProtoESP, ProtoESPoIPv6:
		return "esp"
	case ProtoAH, ProtoAHoIPv6:
		return "ah"
	case ProtoSCTP, ProtoSCTPoIPv6:
		return "sctp"
	case ProtoICMP:
		return "icmp"
	case ProtoICMPv6:
		return "icmpv6"
	case ProtoIGMP:
		return "igmp"
	case ProtoAll, ProtoAlloIPv6:
		return "all"
	}
	return ""
}

// HasPorts reports whether the protocol carries source and destination ports.
func (p Protocol) HasPorts() bool {
	switch p {
	case ProtoTCP, ProtoTCPoIPv6, ProtoUDP, ProtoUDPoIPv6,
		ProtoUDPLite, ProtoUDPLiteoIPv6, ProtoSCTP, ProtoSCTPoIPv6:
		return true
	}
	return false
}

// Direction is the traffic direction a rule applies to, seen from the VM.
type Direction int

const (
	DirIn Direction = iota
	DirOut
	DirInOut
)

func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	case DirInOut:
		return "inout"
	}
	return "unknown"
}

// ParseDirection parses "in", "out" or "inout".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in":
		return DirIn, nil
	case "out":
		return DirOut, nil
	case "inout":
		return DirInOut, nil
	}
	return DirIn, errors.Errorf(errors.KindValidation, "unknown direction %q", s)
}

// Action is what happens to a packet matching a rule.
type Action int

const (
	ActionDrop Action = iota
	ActionAccept
	ActionReject
	ActionReturn
	ActionContinue
	ActionJump
)

func (a Action) String() string {
	switch a {
	case ActionDrop:
		return "drop"
	case ActionAccept:
		return "accept"
	case ActionReject:
		return "reject"
	case ActionReturn:
		return "return"
	case ActionContinue:
		return "continue"
	case ActionJump:
		return "jump"
	}
	return "unknown"
}

// ParseAction parses an action name.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop":
		return ActionDrop, nil
	case "accept":
		return ActionAccept, nil
	case "reject":
		return ActionReject, nil
	case "return":
		return ActionReturn, nil
	case "continue":
		return ActionContinue, nil
	case "jump":
		return ActionJump, nil
	}
	return ActionDrop, errors.Errorf(errors.KindValidation, "unknown action %q", s)
}

// StateFlags is an explicit connection-state set.
type StateFlags uint8

const (
	StateNew StateFlags = 1 << iota
	StateEstablished
	StateRelated
	StateInvalid
	StateNone
)

// String renders the set the way the state match expects it.
func (s StateFlags) String() string {
	if s == StateNone {
		return "NONE"
	}
	var parts []string
	for _, f := range []struct {
		flag StateFlags
		name string
	}{
		{StateNew, "NEW"},
		{StateEstablished, "ESTABLISHED"},
		{StateRelated, "RELATED"},
		{StateInvalid, "INVALID"},
	} {
		if s&f.flag != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseStateFlags parses a comma-separated state list such as "NEW,ESTABLISHED".
func ParseStateFlags(s string) (StateFlags, error) {
	var flags StateFlags
	for _, part := range strings.Split(s, ",") {
		switch strings.ToUpper(strings.TrimSpace(part)) {
		case "NEW":
			flags |= StateNew
		case "ESTABLISHED":
			flags |= StateEstablished
		case "RELATED":
			flags |= StateRelated
		case "INVALID":
			flags |= StateInvalid
		case "NONE":
			flags |= StateNone
		default:
			return 0, errors.Errorf(errors.KindValidation, "unknown connection state %q", part)
		}
	}
	if flags&StateNone != 0 && flags != StateNone {
		return 0, errors.New(errors.KindValidation, "NONE cannot be combined with other states")
	}
	return flags, nil
}
