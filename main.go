package main

import (
	"flag"
	"os"
	"strings"
	"time"

	"grimm.is/bridgewall/cmd"
	"grimm.is/bridgewall/internal/brand"
	"grimm.is/bridgewall/internal/config"
	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/logging"
)

var printer = cmd.Printer

func main() {
	logging.SetProcessName(brand.BinaryName)
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "apply":
		fs := flag.NewFlagSet("apply", flag.ExitOnError)
		configFile := configFlag(fs)
		ifname := fs.String("i", "", "Interface to filter")
		stage := fs.Bool("stage", false, "Install next to the active generation without promoting")
		fs.Parse(os.Args[2:])
		exitOn("Apply failed", cmd.RunApply(*configFile, *ifname, fs.Arg(0), *stage))

	case "plan":
		fs := flag.NewFlagSet("plan", flag.ExitOnError)
		ifname := fs.String("i", "", "Interface to plan for")
		against := fs.String("against", "", "Saved plan to diff against")
		saved := fs.Bool("saved", false, "Diff against the plan stored by --save")
		save := fs.Bool("save", false, "Store the plan in the state directory")
		fs.Parse(os.Args[2:])
		if *save {
			path, err := cmd.SavePlan(*ifname, fs.Arg(0))
			exitOn("Plan failed", err)
			printer.Printf("Plan saved to %s\n", path)
			return
		}
		if *saved {
			*against = cmd.SavedPlanPath(*ifname)
		}
		err := cmd.RunPlan(os.Stdout, *ifname, fs.Arg(0), *against)
		if errors.Is(err, cmd.ErrPlanDiffers) {
			os.Exit(2)
		}
		exitOn("Plan failed", err)

	case "teardown":
		fs := flag.NewFlagSet("teardown", flag.ExitOnError)
		configFile := configFlag(fs)
		ifname := fs.String("i", "", "Interface")
		which := fs.String("generation", cmd.TeardownAll, "Generation to remove: new, old (promotes new) or all")
		fs.Parse(os.Args[2:])
		exitOn("Teardown failed", cmd.RunTeardown(*configFile, *ifname, *which))

	case "basic":
		fs := flag.NewFlagSet("basic", flag.ExitOnError)
		configFile := configFlag(fs)
		req := cmd.BasicRequest{}
		fs.StringVar(&req.Ifname, "i", "", "Interface")
		fs.StringVar(&req.MAC, "mac", "", "MAC address of the VM")
		servers := fs.String("dhcp-servers", "", "Comma-separated DHCP server addresses (dhcp-only)")
		fs.BoolVar(&req.LeaveTemporary, "stage", false, "Leave a dhcp-only ruleset in the temporary generation")
		fs.Parse(os.Args[2:])
		req.Mode = fs.Arg(0)
		if *servers != "" {
			req.Servers = strings.Split(*servers, ",")
		}
		exitOn("Basic ruleset failed", cmd.RunBasic(*configFile, req))

	case "probe":
		fs := flag.NewFlagSet("probe", flag.ExitOnError)
		configFile := configFlag(fs)
		ifname := fs.String("i", "", "Also inspect this interface")
		fs.Parse(os.Args[2:])
		exitOn("Probe failed", cmd.RunProbe(os.Stdout, *configFile, *ifname))

	case "check":
		fs := flag.NewFlagSet("check", flag.ExitOnError)
		configFile := configFlag(fs)
		fs.Parse(os.Args[2:])
		exitOn("Check failed", cmd.RunCheck(os.Stdout, *configFile, fs.Arg(0)))

	case "watch":
		fs := flag.NewFlagSet("watch", flag.ExitOnError)
		configFile := configFlag(fs)
		interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
		fs.Parse(os.Args[2:])
		exitOn("Watch failed", cmd.RunWatch(*configFile, fs.Args(), *interval))

	case "version":
		printer.Printf("%s %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func configFlag(fs *flag.FlagSet) *string {
	path := fs.String("config", config.DefaultPath(), "Configuration file")
	fs.StringVar(path, "c", config.DefaultPath(), "Configuration file (short)")
	return path
}

func exitOn(what string, err error) {
	if err == nil {
		return
	}
	printer.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Filtering Commands:
  apply     Apply a policy file to an interface
            Options: -i <ifname>, --stage, --config (-c) <file>
  teardown  Remove an interface's chains
            Options: -i <ifname>, --generation new|old|all
  basic     Install a fixed ruleset: allow, dhcp-only, drop-all or remove
            Options: -i <ifname>, --mac <addr>, --dhcp-servers <list>, --stage

Utility Commands:
  plan      Print the commands a policy would run, without running them
            Options: -i <ifname>, --against <saved plan>, --save, --saved
  check     Validate the configuration and an optional policy file
  probe     Show detected tools, syntax quirks and bridge netfilter state
            Options: -i <ifname>
  watch     Live view of the chains of one or more interfaces
            Options: --interval <duration>
  version   Print version information

Examples:
  %s apply -i vnet0 /etc/%s/web.hcl
  %s plan -i vnet0 web.yaml > web.plan
  %s basic -i vnet0 --mac 52:54:00:12:34:56 --dhcp-servers 192.168.122.1 dhcp-only
`, brand.Name, brand.Description, brand.BinaryName,
		brand.BinaryName, brand.LowerName, brand.BinaryName, brand.BinaryName)
}
