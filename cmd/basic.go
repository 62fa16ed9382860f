package cmd

import (
	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/validation"
)

// Basic rulesets.
const (
	BasicAllow    = "allow"
	BasicDHCPOnly = "dhcp-only"
	BasicDropAll  = "drop-all"
	BasicRemove   = "remove"
)

// BasicRequest selects one of the fixed bridge-layer rulesets.
type BasicRequest struct {
	Mode    string
	Ifname  string
	MAC     string
	Servers []string
	// LeaveTemporary keeps a dhcp-only ruleset in the temporary generation.
	LeaveTemporary bool
}

// RunBasic installs or removes a basic ruleset.
func RunBasic(configFile string, req BasicRequest) error {
	if err := requireInterface(req.Ifname); err != nil {
		return err
	}
	switch req.Mode {
	case BasicAllow, BasicDHCPOnly, BasicDropAll, BasicRemove:
	default:
		return errors.Errorf(errors.KindValidation, "unknown basic ruleset %q", req.Mode)
	}
	if req.Mode == BasicAllow || req.Mode == BasicDHCPOnly {
		if err := validation.ValidateMAC(req.MAC); err != nil {
			return err
		}
	}
	for _, srv := range req.Servers {
		if err := validation.ValidateIPv4(srv); err != nil {
			return errors.Attr(err, "dhcp_server", srv)
		}
	}
	s, err := openSession(configFile)
	if err != nil {
		return err
	}
	d, err := s.driver()
	if err != nil {
		return err
	}
	if !d.CanUseBasicRuleset() {
		return errors.New(errors.KindToolUnavailable, "basic rulesets need ebtables")
	}

	switch req.Mode {
	case BasicAllow:
		err = d.ApplyBasicAllowRuleset(req.Ifname, req.MAC)
	case BasicDHCPOnly:
		err = d.ApplyDHCPOnlyRuleset(req.Ifname, req.MAC, req.Servers, req.LeaveTemporary)
	case BasicDropAll:
		err = d.ApplyDropAllRuleset(req.Ifname)
	case BasicRemove:
		err = d.RemoveBasicRuleset(req.Ifname)
	}
	if err != nil {
		return err
	}
	Printer.Printf("%s: %s done\n", req.Ifname, req.Mode)
	return nil
}
