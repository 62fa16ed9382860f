package firewall

import (
	"context"
	"sync"

	"grimm.is/bridgewall/internal/clock"
	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/filter"
	"grimm.is/bridgewall/internal/firewalld"
	"grimm.is/bridgewall/internal/logging"
	"grimm.is/bridgewall/internal/network"
)

// Executor and discovery selections.
const (
	ExecutorAuto   = "auto"
	ExecutorScript = "script"
	ExecutorDirect = "direct"

	DiscoveryCLI     = "cli"
	DiscoveryNetlink = "netlink"
)

// execMu serializes every submission to the kernel tools. Base chains are
// shared between interfaces, so drivers of different interfaces serialize too.
var execMu sync.Mutex

// Options configures a Driver.
type Options struct {
	// UseFirewalld allows the passthrough daemon when it is running.
	UseFirewalld bool
	Executor     string
	Discovery    string
	Shell        string

	Ebtables    string
	Iptables    string
	Ip6tables   string
	FirewallCmd string

	Runner  CommandRunner
	Sysctl  network.SystemController
	Links   network.LinkInspector
	Clock   clock.Clock
	OnPhase PhaseHook
	Logger  *logging.Logger
}

// Driver is the per-interface filtering entry point.
type Driver struct {
	env    *Environment
	engine *Engine
	logger *logging.Logger
}

// NewDriver probes the host once and wires the executor and chain lister.
func NewDriver(opts Options) (*Driver, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Runner == nil {
		opts.Runner = DefaultCommandRunner
	}

	probe := ProbeOptions{
		Runner:       opts.Runner,
		UseFirewalld: opts.UseFirewalld,
		Ebtables:     opts.Ebtables,
		Iptables:     opts.Iptables,
		Ip6tables:    opts.Ip6tables,
		FirewallCmd:  opts.FirewallCmd,
		Logger:       opts.Logger,
	}
	if opts.UseFirewalld {
		probe.Watcher = firewalld.NewWatcher()
	}
	env, err := NewProber(probe).Probe(context.Background())
	if err != nil {
		return nil, err
	}

	exec, err := newExecutor(opts, env)
	if err != nil {
		return nil, err
	}

	var lister ChainLister
	switch opts.Discovery {
	case "", DiscoveryCLI:
		lister = NewCLIChainLister(opts.Runner, env.Tools)
	case DiscoveryNetlink:
		nft, err := NewNFTChainLister()
		if err != nil {
			return nil, err
		}
		lister = nft
	default:
		return nil, errors.Errorf(errors.KindValidation, "unknown discovery mode %q", opts.Discovery)
	}

	return NewDriverWithEnvironment(env, exec, lister, opts), nil
}

func newExecutor(opts Options, env *Environment) (Executor, error) {
	mode := opts.Executor
	if mode == "" || mode == ExecutorAuto {
		mode = ExecutorScript
		if env.Passthrough {
			mode = ExecutorDirect
		}
	}
	switch mode {
	case ExecutorScript:
		return NewScriptExecutor(opts.Runner, env.Tools, opts.Shell, opts.Logger), nil
	case ExecutorDirect:
		return NewDirectExecutor(opts.Runner, env.Tools, opts.Logger), nil
	}
	return nil, errors.Errorf(errors.KindValidation, "unknown executor %q", opts.Executor)
}

// NewDriverWithEnvironment builds a driver around an already probed environment.
func NewDriverWithEnvironment(env *Environment, exec Executor, lister ChainLister, opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	checker := NewEnvironmentChecker(opts.Sysctl, opts.Links, opts.Clock, opts.Logger)
	return &Driver{
		env:    env,
		engine: newEngine(env, exec, lister, checker, opts.Clock, opts.OnPhase, opts.Logger),
		logger: opts.Logger.WithComponent("firewall"),
	}
}

// Environment returns the probe results. Callers must not modify it.
func (d *Driver) Environment() *Environment {
	return d.env
}

func locked(fn func() error) error {
	execMu.Lock()
	defer execMu.Unlock()
	return fn()
}

// ApplyPolicy installs rules as a new generation and promotes it.
func (d *Driver) ApplyPolicy(ifname string, rules []*filter.Instance) error {
	return locked(func() error {
		if err := d.engine.ApplyNewRules(ifname, rules); err != nil {
			return err
		}
		return d.engine.TearOldRules(ifname)
	})
}

// ApplyNewRules installs rules as a temporary generation next to the active one.
func (d *Driver) ApplyNewRules(ifname string, rules []*filter.Instance) error {
	return locked(func() error { return d.engine.ApplyNewRules(ifname, rules) })
}

// TearDownNewGeneration discards the temporary generation.
func (d *Driver) TearDownNewGeneration(ifname string) error {
	return locked(func() error { return d.engine.TearNewRules(ifname) })
}

// TearDownOldGeneration removes the active generation and promotes the temporary one.
func (d *Driver) TearDownOldGeneration(ifname string) error {
	return locked(func() error { return d.engine.TearOldRules(ifname) })
}

// TearDownAll removes every chain of the interface.
func (d *Driver) TearDownAll(ifname string) error {
	return locked(func() error { return d.engine.AllTeardown(ifname) })
}

// CanUseBasicRuleset reports whether the basic rulesets can be applied.
func (d *Driver) CanUseBasicRuleset() bool {
	return d.engine.CanApplyBasicRules()
}

// ApplyBasicAllowRuleset installs the MAC spoofing guard.
func (d *Driver) ApplyBasicAllowRuleset(ifname, mac string) error {
	return locked(func() error { return d.engine.ApplyBasicAllowRules(ifname, mac) })
}

// ApplyDHCPOnlyRuleset restricts the VM to DHCP traffic.
func (d *Driver) ApplyDHCPOnlyRuleset(ifname, mac string, servers []string, leaveTemporary bool) error {
	return locked(func() error { return d.engine.ApplyDHCPOnlyRules(ifname, mac, servers, leaveTemporary) })
}

// ApplyDropAllRuleset blocks all VM traffic.
func (d *Driver) ApplyDropAllRuleset(ifname string) error {
	return locked(func() error { return d.engine.ApplyDropAllRules(ifname) })
}

// RemoveBasicRuleset removes a basic ruleset.
func (d *Driver) RemoveBasicRuleset(ifname string) error {
	return locked(func() error { return d.engine.RemoveBasicRules(ifname) })
}
