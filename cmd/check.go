package cmd

import (
	"io"
	"sort"

	"grimm.is/bridgewall/internal/config"
	"grimm.is/bridgewall/internal/filter"
)

// RunCheck validates the configuration and, when given, a policy file.
func RunCheck(w io.Writer, configFile, policyFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}
	Printer.Fprintf(w, "Configuration valid (schema %s, executor %s, discovery %s)\n", cfg.SchemaVersion, cfg.Executor, cfg.Discovery)

	if policyFile == "" {
		return nil
	}
	p, err := config.LoadPolicy(policyFile)
	if err != nil {
		return err
	}
	rules, err := p.Instances()
	if err != nil {
		return err
	}

	chains := map[string]int{}
	for _, in := range rules {
		chains[in.Suffix()]++
	}
	names := make([]string, 0, len(chains))
	for c := range chains {
		names = append(names, c)
	}
	sort.Strings(names)

	Printer.Fprintf(w, "Policy valid: %d rules, %d variables\n", len(rules), len(p.Variables))
	for _, c := range names {
		marker := ""
		if c == filter.RootChain {
			marker = " (root)"
		}
		Printer.Fprintf(w, "  %-16s %d%s\n", c, chains[c], marker)
	}
	return nil
}
