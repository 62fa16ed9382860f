package filter

import (
	"fmt"
	"math/bits"
	"net"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"grimm.is/bridgewall/internal/errors"
)

// DataType selects how a matcher value is parsed and rendered.
type DataType int

const (
	TypeIPv4Addr DataType = iota + 1
	TypeIPv6Addr
	TypeMACAddr
	TypeMACMask
	TypeIPv4Mask
	TypeIPv6Mask
	TypeUint8
	TypeUint8Hex
	TypeUint16
	TypeUint16Hex
	TypeUint32
	TypeUint32Hex
	TypeIPSetName
	TypeIPSetFlags
	TypeBoolean
	TypeString
	TypeTCPFlags
)

var dataTypeNames = map[DataType]string{
	TypeIPv4Addr:   "ipv4addr",
	TypeIPv6Addr:   "ipv6addr",
	TypeMACAddr:    "macaddr",
	TypeMACMask:    "macmask",
	TypeIPv4Mask:   "ipv4mask",
	TypeIPv6Mask:   "ipv6mask",
	TypeUint8:      "uint8",
	TypeUint8Hex:   "uint8hex",
	TypeUint16:     "uint16",
	TypeUint16Hex:  "uint16hex",
	TypeUint32:     "uint32",
	TypeUint32Hex:  "uint32hex",
	TypeIPSetName:  "ipsetname",
	TypeIPSetFlags: "ipsetflags",
	TypeBoolean:    "boolean",
	TypeString:     "string",
	TypeTCPFlags:   "tcpflags",
}

func (t DataType) String() string {
	if s, ok := dataTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("datatype(%d)", int(t))
}

// MaxIPSetFlags is the most src/dst selectors an address-set match accepts.
const MaxIPSetFlags = 6

// MaxCommentLength caps rule comments.
const MaxCommentLength = 256

var ipsetNameRe = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,31}$`)

// TCP flag bits in header order.
const (
	TCPFlagFIN uint8 = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG

	TCPFlagsAll = TCPFlagFIN | TCPFlagSYN | TCPFlagRST | TCPFlagPSH | TCPFlagACK | TCPFlagURG
)

var tcpFlagNames = []struct {
	bit  uint8
	name string
}{
	{TCPFlagFIN, "FIN"},
	{TCPFlagSYN, "SYN"},
	{TCPFlagRST, "RST"},
	{TCPFlagPSH, "PSH"},
	{TCPFlagACK, "ACK"},
	{TCPFlagURG, "URG"},
}

// Value is a parsed matcher value. Which fields are meaningful depends on the DataType.
type Value struct {
	Addr netip.Addr
	MAC  net.HardwareAddr
	Num  uint32
	Str  string
	Bool bool

	// TCP flags: Mask and Flags. Address-set flags: Count selectors, bit i of Flags set means "src".
	Mask  uint8
	Flags uint8
	Count uint8
}

// ParseValue parses s as a value of type dt.
func ParseValue(dt DataType, s string) (Value, error) {
	s = strings.TrimSpace(s)
	var v Value

	switch dt {
	case TypeIPv4Addr:
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			return v, errors.Errorf(errors.KindValidation, "invalid IPv4 address %q", s)
		}
		v.Addr = addr

	case TypeIPv6Addr:
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is6() {
			return v, errors.Errorf(errors.KindValidation, "invalid IPv6 address %q", s)
		}
		v.Addr = addr

	case TypeMACAddr, TypeMACMask:
		mac, err := net.ParseMAC(s)
		if err != nil || len(mac) != 6 {
			return v, errors.Errorf(errors.KindValidation, "invalid MAC address %q", s)
		}
		v.MAC = mac

	case TypeIPv4Mask:
		n, err := parseMask(s, 32)
		if err != nil {
			return v, err
		}
		v.Num = n

	case TypeIPv6Mask:
		n, err := parseMask(s, 128)
		if err != nil {
			return v, err
		}
		v.Num = n

	case TypeUint8, TypeUint16, TypeUint32:
		digits, base := s, 10
		if h, ok := cutHexPrefix(s); ok {
			digits, base = h, 16
		}
		n, err := strconv.ParseUint(digits, base, dt.bitSize())
		if err != nil {
			return v, errors.Errorf(errors.KindValidation, "invalid %s value %q", dt, s)
		}
		v.Num = uint32(n)

	case TypeUint8Hex, TypeUint16Hex, TypeUint32Hex:
		h, _ := cutHexPrefix(s)
		n, err := strconv.ParseUint(h, 16, dt.bitSize())
		if err != nil {
			return v, errors.Errorf(errors.KindValidation, "invalid %s value %q", dt, s)
		}
		v.Num = uint32(n)

	case TypeIPSetName:
		if !ipsetNameRe.MatchString(s) {
			return v, errors.Errorf(errors.KindValidation, "invalid address set name %q", s)
		}
		v.Str = s

	case TypeIPSetFlags:
		parts := strings.Split(s, ",")
		if len(parts) > MaxIPSetFlags {
			return v, errors.Errorf(errors.KindValidation, "too many address set flags in %q", s)
		}
		for i, p := range parts {
			switch strings.ToLower(strings.TrimSpace(p)) {
			case "src":
				v.Flags |= 1 << i
			case "dst":
			default:
				return v, errors.Errorf(errors.KindValidation, "invalid address set flag %q", p)
			}
		}
		v.Count = uint8(len(parts))

	case TypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return v, errors.Errorf(errors.KindValidation, "invalid boolean %q", s)
		}
		v.Bool = b

	case TypeString:
		if strings.ContainsAny(s, "\n\r") {
			return v, errors.New(errors.KindValidation, "string value must be a single line")
		}
		v.Str = s

	case TypeTCPFlags:
		maskStr, flagStr, ok := strings.Cut(s, "/")
		if !ok {
			return v, errors.Errorf(errors.KindValidation, "TCP flags %q must be MASK/FLAGS", s)
		}
		mask, err := parseTCPFlagList(maskStr)
		if err != nil {
			return v, err
		}
		flags, err := parseTCPFlagList(flagStr)
		if err != nil {
			return v, err
		}
		v.Mask, v.Flags = mask, flags

	default:
		return v, errors.Errorf(errors.KindValidation, "unknown datatype %d", int(dt))
	}
	return v, nil
}

func (t DataType) bitSize() int {
	switch t {
	case TypeUint8, TypeUint8Hex:
		return 8
	case TypeUint16, TypeUint16Hex:
		return 16
	}
	return 32
}

// parseMask accepts a prefix length or a contiguous dotted/colon mask.
func parseMask(s string, width uint32) (uint32, error) {
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		if uint32(n) > width {
			return 0, errors.Errorf(errors.KindValidation, "mask /%d exceeds %d bits", n, width)
		}
		return uint32(n), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || uint32(addr.BitLen()) != width {
		return 0, errors.Errorf(errors.KindValidation, "invalid mask %q", s)
	}
	raw := addr.AsSlice()
	ones := 0
	seenZero := false
	for _, b := range raw {
		if seenZero && b != 0 {
			return 0, errors.Errorf(errors.KindValidation, "non-contiguous mask %q", s)
		}
		lead := bits.LeadingZeros8(^b)
		if b != 0xff {
			if b<<lead != 0 {
				return 0, errors.Errorf(errors.KindValidation, "non-contiguous mask %q", s)
			}
			seenZero = true
		}
		ones += lead
	}
	return uint32(ones), nil
}

func parseTCPFlagList(s string) (uint8, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "ALL":
		return TCPFlagsAll, nil
	case "NONE":
		return 0, nil
	}
	var out uint8
	for _, name := range strings.Split(s, ",") {
		found := false
		for _, f := range tcpFlagNames {
			if f.name == strings.TrimSpace(name) {
				out |= f.bit
				found = true
				break
			}
		}
		if !found {
			return 0, errors.Errorf(errors.KindValidation, "unknown TCP flag %q", name)
		}
	}
	return out, nil
}

// FormatTCPFlags renders a flag set as a comma list, ALL or NONE.
func FormatTCPFlags(f uint8) string {
	switch f {
	case 0:
		return "NONE"
	case TCPFlagsAll:
		return "ALL"
	}
	var names []string
	for _, n := range tcpFlagNames {
		if f&n.bit != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, ",")
}

// Render produces the backend text for v. Integers render as 0x-prefixed
// hex when hex is set, decimal otherwise.
func (t DataType) Render(v Value, hex bool) (string, error) {
	switch t {
	case TypeIPv4Addr, TypeIPv6Addr:
		if !v.Addr.IsValid() {
			return "", errors.New(errors.KindCompile, "address value is not set")
		}
		return v.Addr.String(), nil
	case TypeMACAddr, TypeMACMask:
		if len(v.MAC) != 6 {
			return "", errors.New(errors.KindCompile, "MAC value is not set")
		}
		return v.MAC.String(), nil
	case TypeIPv4Mask, TypeIPv6Mask:
		return strconv.FormatUint(uint64(v.Num), 10), nil
	case TypeUint8, TypeUint8Hex, TypeUint16, TypeUint16Hex, TypeUint32, TypeUint32Hex:
		if hex {
			return fmt.Sprintf("0x%x", v.Num), nil
		}
		return strconv.FormatUint(uint64(v.Num), 10), nil
	case TypeIPSetName, TypeString:
		return v.Str, nil
	case TypeBoolean:
		return strconv.FormatBool(v.Bool), nil
	case TypeIPSetFlags:
		return RenderIPSetFlags(v, false), nil
	case TypeTCPFlags:
		return FormatTCPFlags(v.Mask) + " " + FormatTCPFlags(v.Flags), nil
	}
	return "", errors.Errorf(errors.KindCompile, "cannot render unknown datatype %d", int(t))
}

// RenderIPSetFlags renders address-set selectors. For traffic entering the
// VM the meaning of src and dst is swapped.
func RenderIPSetFlags(v Value, directionIn bool) string {
	parts := make([]string, 0, v.Count)
	for i := uint8(0); i < v.Count; i++ {
		src := v.Flags&(1<<i) != 0
		if src != directionIn {
			parts = append(parts, "src")
		} else {
			parts = append(parts, "dst")
		}
	}
	return strings.Join(parts, ",")
}

// cutHexPrefix strips a leading 0x or 0X.
func cutHexPrefix(s string) (string, bool) {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:], true
	}
	return s, false
}
