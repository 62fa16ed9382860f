package firewall

import (
	"strings"
)

// CLIChainLister lists jump targets by scraping "-L chain" output of the
// backend tools.
type CLIChainLister struct {
	runner CommandRunner
	tools  Tools
}

// NewCLIChainLister creates a lister that runs the backend tools directly.
func NewCLIChainLister(runner CommandRunner, tools Tools) *CLIChainLister {
	if runner == nil {
		runner = DefaultCommandRunner
	}
	return &CLIChainLister{runner: runner, tools: tools}
}

// Children implements ChainLister.
func (c *CLIChainLister) Children(layer Layer, chain string) ([]string, error) {
	argv := c.tools.Argv(layer)
	if len(argv) == 0 {
		return nil, toolUnavailable(layer)
	}

	var listArgs []string
	if layer == LayerEbtables {
		listArgs = ebNat("-L", chain)
	} else {
		listArgs = []string{"-S", chain}
	}
	args := append(append([]string{}, argv[1:]...), listArgs...)

	out, status, err := c.runner.Run(argv[0], args...)
	if err != nil || status != 0 {
		cmd := Command{Layer: layer, Args: listArgs}
		return nil, executionError(cmd.String(), out, status, err)
	}
	return parseJumpTargets(splitLines(out)), nil
}

// parseJumpTargets extracts the target of every "-j X" or "-g X" in lines.
func parseJumpTargets(lines []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, line := range lines {
		fields := strings.Fields(line)
		for i := 0; i+1 < len(fields); i++ {
			if fields[i] != "-j" && fields[i] != "-g" {
				continue
			}
			t := fields[i+1]
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}
