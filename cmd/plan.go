package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/bridgewall/internal/brand"
	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/firewall"
	"grimm.is/bridgewall/internal/logging"
)

// ErrPlanDiffers is returned when a plan does not match the saved one.
var ErrPlanDiffers = errors.New(errors.KindValidation, "plan differs from saved plan")

// Plan returns the commands applying policyFile to ifname would run on a
// host without existing chains.
func Plan(ifname, policyFile string) (string, error) {
	if err := requireInterface(ifname); err != nil {
		return "", err
	}
	rules, err := loadRules(policyFile)
	if err != nil {
		return "", err
	}
	d, rec := firewall.NewPlanDriver(nil, firewall.Options{Logger: logging.Discard()})
	if err := d.ApplyPolicy(ifname, rules); err != nil {
		return "", err
	}
	return rec.String(), nil
}

// SavedPlanPath is where SavePlan keeps the plan of ifname.
func SavedPlanPath(ifname string) string {
	return filepath.Join(brand.GetStateDir(), "plans", ifname+".plan")
}

// SavePlan renders the plan and stores it at SavedPlanPath.
func SavePlan(ifname, policyFile string) (string, error) {
	plan, err := Plan(ifname, policyFile)
	if err != nil {
		return "", err
	}
	path := SavedPlanPath(ifname)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, errors.KindInternal, "failed to create %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, []byte(plan), 0o644); err != nil {
		return "", errors.Wrapf(err, errors.KindInternal, "failed to write %s", path)
	}
	return path, nil
}

// RunPlan writes the plan to w. With against set, it writes a unified diff
// against that saved plan instead and returns ErrPlanDiffers if they differ.
func RunPlan(w io.Writer, ifname, policyFile, against string) error {
	plan, err := Plan(ifname, policyFile)
	if err != nil {
		return err
	}
	if against == "" {
		_, err := io.WriteString(w, plan)
		return err
	}

	saved, err := os.ReadFile(against)
	if err != nil {
		return errors.Wrapf(err, errors.KindNotFound, "failed to read saved plan %s", against)
	}
	if string(saved) == plan {
		Printer.Fprintf(w, "No changes detected.\n")
		return nil
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(saved)),
		B:        difflib.SplitLines(plan),
		FromFile: against,
		ToFile:   "planned",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to render diff")
	}
	fmt.Fprint(w, text)
	return ErrPlanDiffers
}
