package firewall

import (
	"time"

	"grimm.is/bridgewall/internal/clock"
	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/logging"
	"grimm.is/bridgewall/internal/metrics"
	"grimm.is/bridgewall/internal/network"
)

// bridgeNFWarnInterval limits how often a disabled hook is reported per family.
const bridgeNFWarnInterval = 10 * time.Second

// EnvironmentChecker reports host conditions that make installed rules
// ineffective. Findings are logged, never returned to the caller.
type EnvironmentChecker struct {
	sys      network.SystemController
	links    network.LinkInspector
	throttle *clock.Throttle
	logger   *logging.Logger
	metrics  *metrics.Registry
}

// NewEnvironmentChecker creates a checker. links may be nil.
func NewEnvironmentChecker(sys network.SystemController, links network.LinkInspector, clk clock.Clock, logger *logging.Logger) *EnvironmentChecker {
	if sys == nil {
		sys = network.DefaultSystemController
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &EnvironmentChecker{
		sys:      sys,
		links:    links,
		throttle: clock.NewThrottle(clk, bridgeNFWarnInterval),
		logger:   logger.WithComponent("environment"),
		metrics:  metrics.Get(),
	}
}

// CheckBridgeNF warns when bridged traffic of the layer's family skips the IP-layer tables.
func (c *EnvironmentChecker) CheckBridgeNF(layer Layer) {
	ipv6 := layer == LayerIp6tables
	enabled, known := network.BridgeNFCallEnabled(c.sys, ipv6)
	if !known || enabled {
		return
	}
	if !c.throttle.Allow(layer.String()) {
		return
	}
	path := network.SysctlBridgeNFCallIptables
	if ipv6 {
		path = network.SysctlBridgeNFCallIp6tables
	}
	c.warn("bridge_nf_disabled", errors.Attr(
		errors.Errorf(errors.KindEnvironment, "to enable %s filtering on bridged traffic set %s to 1", layer, path),
		"sysctl", path))
}

// CheckLink warns when the interface is missing or is not a bridge port.
func (c *EnvironmentChecker) CheckLink(ifname string) {
	if c.links == nil {
		return
	}
	st, err := c.links.Inspect(ifname)
	if err != nil {
		c.logger.Debug("cannot inspect link", "interface", ifname, "error", err)
		return
	}
	switch {
	case !st.Exists:
		c.warn("link_missing", errors.Errorf(errors.KindEnvironment, "interface %s does not exist", ifname))
	case st.Bridge == "":
		c.warn("link_not_bridged", errors.Errorf(errors.KindEnvironment, "interface %s is not attached to a bridge", ifname))
	}
}

func (c *EnvironmentChecker) warn(kind string, err error) {
	c.metrics.EnvironmentWarnings.WithLabelValues(kind).Inc()
	c.logger.Warn(err.Error(), "kind", kind)
}
