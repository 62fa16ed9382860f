// Package validation checks user-supplied names and addresses before they
// reach chain names or command lines.
package validation

import (
	"net"
	"regexp"

	"grimm.is/bridgewall/internal/errors"
)

// MaxInterfaceName is the kernel limit on interface names (IFNAMSIZ - 1).
const MaxInterfaceName = 15

// Alphanumeric, dash, underscore and dot (for VLANs).
var interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateInterfaceName checks that name is a usable interface name. The
// name becomes part of chain names and shell scripts, so anything outside
// the portable character set is refused.
func ValidateInterfaceName(name string) error {
	if name == "" {
		return errors.New(errors.KindValidation, "interface name cannot be empty")
	}
	if len(name) > MaxInterfaceName {
		return errors.Errorf(errors.KindValidation, "interface name too long (max %d characters): %s", MaxInterfaceName, name)
	}
	if !interfaceNameRegex.MatchString(name) {
		return errors.Errorf(errors.KindValidation, "invalid interface name: %q (must be alphanumeric with -_.)", name)
	}
	return nil
}

// ValidateMAC checks for a 48-bit Ethernet address.
func ValidateMAC(s string) error {
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return errors.Errorf(errors.KindValidation, "invalid MAC address: %q", s)
	}
	return nil
}

// ValidateIPv4 checks for a dotted-quad IPv4 address.
func ValidateIPv4(s string) error {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return errors.Errorf(errors.KindValidation, "invalid IPv4 address: %q", s)
	}
	return nil
}
