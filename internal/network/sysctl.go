package network

import (
	"os"
	"strings"
)

// Bridge netfilter hooks. When either is 0, bridged traffic bypasses the IP-layer chains.
const (
	SysctlBridgeNFCallIptables  = "/proc/sys/net/bridge/bridge-nf-call-iptables"
	SysctlBridgeNFCallIp6tables = "/proc/sys/net/bridge/bridge-nf-call-ip6tables"
)

// SystemController reads kernel tunables.
type SystemController interface {
	ReadSysctl(path string) (string, error)
	IsNotExist(err error) bool
}

// DefaultSystemController is the default RealSystemController instance.
var DefaultSystemController SystemController = &RealSystemController{}

// RealSystemController reads /proc/sys.
type RealSystemController struct{}

// ReadSysctl reads a sysctl value. Dotted names are mapped below /proc/sys.
func (r *RealSystemController) ReadSysctl(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/proc/sys/" + strings.ReplaceAll(path, ".", "/")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// IsNotExist checks if an error indicates that a file or directory does not exist.
func (r *RealSystemController) IsNotExist(err error) bool {
	return os.IsNotExist(err)
}

// BridgeNFCallEnabled reports whether bridged traffic of the family is passed
// to the IP-layer tables. known is false when the sysctl is absent, which
// happens while br_netfilter is not loaded.
func BridgeNFCallEnabled(sys SystemController, ipv6 bool) (enabled, known bool) {
	path := SysctlBridgeNFCallIptables
	if ipv6 {
		path = SysctlBridgeNFCallIp6tables
	}
	v, err := sys.ReadSysctl(path)
	if err != nil {
		return false, false
	}
	return v != "0", true
}
