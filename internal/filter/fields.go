package filter

import (
	"strings"

	"grimm.is/bridgewall/internal/errors"
)

type fieldRef struct {
	slot **Item
	dt   DataType
}

// fields maps the attribute names used in policy files to matcher slots,
// taking the rule's protocol into account.
func (r *Rule) fields() map[string]fieldRef {
	addr, mask := TypeIPv4Addr, TypeIPv4Mask
	if r.Protocol == ProtoIPv6 || r.Protocol.IsIPv6() {
		addr, mask = TypeIPv6Addr, TypeIPv6Mask
	}

	f := map[string]fieldRef{}
	if r.Protocol == ProtoNone {
		return f
	}
	f["srcmacaddr"] = fieldRef{&r.Eth.SrcMAC, TypeMACAddr}

	if r.Protocol.IsEthernet() {
		f["srcmacmask"] = fieldRef{&r.Eth.SrcMACMask, TypeMACMask}
		f["dstmacaddr"] = fieldRef{&r.Eth.DstMAC, TypeMACAddr}
		f["dstmacmask"] = fieldRef{&r.Eth.DstMACMask, TypeMACMask}
	}

	switch r.Protocol {
	case ProtoMAC:
		f["protocolid"] = fieldRef{&r.EtherType, TypeUint16Hex}
	case ProtoVLAN:
		f["vlanid"] = fieldRef{&r.VLANID, TypeUint16}
		f["encap-protocol"] = fieldRef{&r.VLANEncap, TypeUint16Hex}
	case ProtoSTP:
		s := &r.STP
		for name, ref := range map[string]fieldRef{
			"type":                {&s.Type, TypeUint8},
			"flags":               {&s.Flags, TypeUint8Hex},
			"root-priority":       {&s.RootPriLow, TypeUint16},
			"root-priority-hi":    {&s.RootPriHigh, TypeUint16},
			"root-address":        {&s.RootAddr, TypeMACAddr},
			"root-address-mask":   {&s.RootAddrMask, TypeMACMask},
			"root-cost":           {&s.RootCostLow, TypeUint32},
			"root-cost-hi":        {&s.RootCostHigh, TypeUint32},
			"sender-priority":     {&s.SenderPriLow, TypeUint16},
			"sender-priority-hi":  {&s.SenderPriHigh, TypeUint16},
			"sender-address":      {&s.SenderAddr, TypeMACAddr},
			"sender-address-mask": {&s.SenderAddrMask, TypeMACMask},
			"port":                {&s.PortLow, TypeUint16},
			"port-hi":             {&s.PortHigh, TypeUint16},
			"msg-age":             {&s.MsgAgeLow, TypeUint16},
			"msg-age-hi":          {&s.MsgAgeHigh, TypeUint16},
			"max-age":             {&s.MaxAgeLow, TypeUint16},
			"max-age-hi":          {&s.MaxAgeHigh, TypeUint16},
			"hello-time":          {&s.HelloTimeLow, TypeUint16},
			"hello-time-hi":       {&s.HelloTimeHigh, TypeUint16},
			"forward-delay":       {&s.ForwardDelayLow, TypeUint16},
			"forward-delay-hi":    {&s.ForwardDelayHigh, TypeUint16},
		} {
			f[name] = ref
		}
	case ProtoARP, ProtoRARP:
		a := &r.ARP
		f["hwtype"] = fieldRef{&a.HWType, TypeUint16}
		f["opcode"] = fieldRef{&a.Opcode, TypeUint16}
		f["protocoltype"] = fieldRef{&a.ProtocolType, TypeUint16Hex}
		f["arpsrcipaddr"] = fieldRef{&a.SrcIP, TypeIPv4Addr}
		f["arpsrcipmask"] = fieldRef{&a.SrcIPMask, TypeIPv4Mask}
		f["arpdstipaddr"] = fieldRef{&a.DstIP, TypeIPv4Addr}
		f["arpdstipmask"] = fieldRef{&a.DstIPMask, TypeIPv4Mask}
		f["arpsrcmacaddr"] = fieldRef{&a.SrcMAC, TypeMACAddr}
		f["arpdstmacaddr"] = fieldRef{&a.DstMAC, TypeMACAddr}
		f["gratuitous"] = fieldRef{&a.Gratuitous, TypeBoolean}
	case ProtoIP, ProtoIPv6:
		f["srcipaddr"] = fieldRef{&r.IP.SrcAddr, addr}
		f["srcipmask"] = fieldRef{&r.IP.SrcMask, mask}
		f["dstipaddr"] = fieldRef{&r.IP.DstAddr, addr}
		f["dstipmask"] = fieldRef{&r.IP.DstMask, mask}
		f["protocol"] = fieldRef{&r.IP.Protocol, TypeUint8}
		f["srcportstart"] = fieldRef{&r.Ports.SrcStart, TypeUint16}
		f["srcportend"] = fieldRef{&r.Ports.SrcEnd, TypeUint16}
		f["dstportstart"] = fieldRef{&r.Ports.DstStart, TypeUint16}
		f["dstportend"] = fieldRef{&r.Ports.DstEnd, TypeUint16}
		if r.Protocol == ProtoIP {
			f["dscp"] = fieldRef{&r.IP.DSCP, TypeUint8}
		}
	default:
		// IP-layer protocols
		f["srcipaddr"] = fieldRef{&r.IP.SrcAddr, addr}
		f["srcipmask"] = fieldRef{&r.IP.SrcMask, mask}
		f["dstipaddr"] = fieldRef{&r.IP.DstAddr, addr}
		f["dstipmask"] = fieldRef{&r.IP.DstMask, mask}
		f["srcipfrom"] = fieldRef{&r.IP.SrcAddrFrom, addr}
		f["srcipto"] = fieldRef{&r.IP.SrcAddrTo, addr}
		f["dstipfrom"] = fieldRef{&r.IP.DstAddrFrom, addr}
		f["dstipto"] = fieldRef{&r.IP.DstAddrTo, addr}
		f["dscp"] = fieldRef{&r.IP.DSCP, TypeUint8}
		f["connlimit-above"] = fieldRef{&r.IP.ConnLimitAbove, TypeUint16}
		f["ipset"] = fieldRef{&r.IP.IPSet, TypeIPSetName}
		f["ipsetflags"] = fieldRef{&r.IP.IPSetFlags, TypeIPSetFlags}
		if r.Protocol.HasPorts() {
			f["srcportstart"] = fieldRef{&r.Ports.SrcStart, TypeUint16}
			f["srcportend"] = fieldRef{&r.Ports.SrcEnd, TypeUint16}
			f["dstportstart"] = fieldRef{&r.Ports.DstStart, TypeUint16}
			f["dstportend"] = fieldRef{&r.Ports.DstEnd, TypeUint16}
		}
		switch r.Protocol {
		case ProtoTCP, ProtoTCPoIPv6:
			f["flags"] = fieldRef{&r.TCPFlags, TypeTCPFlags}
			f["option"] = fieldRef{&r.TCPOption, TypeUint8}
		case ProtoICMP, ProtoICMPv6:
			f["type"] = fieldRef{&r.ICMPType, TypeUint8}
			f["code"] = fieldRef{&r.ICMPCode, TypeUint8}
		}
	}
	return f
}

// SetField assigns a matcher by its policy attribute name. A value starting
// with "!" is negated; a value of the form "$NAME" references a variable.
func (r *Rule) SetField(name, value string) error {
	ref, ok := r.fields()[strings.ToLower(name)]
	if !ok {
		return errors.Errorf(errors.KindValidation, "attribute %q is not valid for protocol %s", name, r.Protocol)
	}

	neg := false
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "!") {
		neg = true
		value = strings.TrimSpace(value[1:])
	}

	var it *Item
	if strings.HasPrefix(value, "$") {
		if len(value) == 1 {
			return errors.Errorf(errors.KindValidation, "attribute %q references an empty variable name", name)
		}
		it = Ref(ref.dt, value[1:])
	} else {
		var err error
		if it, err = Lit(ref.dt, value); err != nil {
			return errors.Wrapf(err, errors.KindValidation, "attribute %q", name)
		}
	}
	it.Negate = neg
	*ref.slot = it
	return nil
}
