package cmd

import (
	"grimm.is/bridgewall/internal/errors"
)

// RunApply installs the policy on ifname. With stage set the new generation
// is left next to the active one until "teardown --generation old" promotes it.
func RunApply(configFile, ifname, policyFile string, stage bool) error {
	if err := requireInterface(ifname); err != nil {
		return err
	}
	s, err := openSession(configFile)
	if err != nil {
		return err
	}
	rules, err := loadRules(policyFile)
	if err != nil {
		return err
	}
	d, err := s.driver()
	if err != nil {
		return err
	}

	if stage {
		if err := d.ApplyNewRules(ifname, rules); err != nil {
			return err
		}
		Printer.Printf("Staged %d rules on %s\n", len(rules), ifname)
		return nil
	}
	if err := d.ApplyPolicy(ifname, rules); err != nil {
		return err
	}
	Printer.Printf("Applied %d rules to %s\n", len(rules), ifname)
	return nil
}

// Teardown targets.
const (
	TeardownNew = "new"
	TeardownOld = "old"
	TeardownAll = "all"
)

// RunTeardown removes a generation of ifname's chains. Tearing down the old
// generation promotes the staged one.
func RunTeardown(configFile, ifname, which string) error {
	if err := requireInterface(ifname); err != nil {
		return err
	}
	s, err := openSession(configFile)
	if err != nil {
		return err
	}
	d, err := s.driver()
	if err != nil {
		return err
	}

	switch which {
	case TeardownNew:
		err = d.TearDownNewGeneration(ifname)
	case TeardownOld:
		err = d.TearDownOldGeneration(ifname)
	case TeardownAll:
		err = d.TearDownAll(ifname)
	default:
		return errors.Errorf(errors.KindValidation, "unknown teardown target %q", which)
	}
	if err != nil {
		return err
	}
	Printer.Printf("Removed %s chains of %s\n", which, ifname)
	return nil
}
