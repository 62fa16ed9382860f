package firewall

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/logging"
	"grimm.is/bridgewall/internal/metrics"
)

// StateMatch selects the connection-state match syntax.
type StateMatch int

const (
	// StateMatchLegacy renders "-m state --state".
	StateMatchLegacy StateMatch = iota
	// StateMatchConntrack renders "-m conntrack --ctstate".
	StateMatchConntrack
)

func (s StateMatch) String() string {
	if s == StateMatchConntrack {
		return "conntrack"
	}
	return "state"
}

// CtDir is the kernel's polarity of the conntrack direction match.
type CtDir int

const (
	// CtDirUnknown omits the direction match.
	CtDirUnknown CtDir = iota
	// CtDirCorrected is the polarity of kernels 2.6.39 and later.
	CtDirCorrected
	// CtDirOld is the inverted polarity of older kernels.
	CtDirOld
)

func (d CtDir) String() string {
	switch d {
	case CtDirCorrected:
		return "corrected"
	case CtDirOld:
		return "old"
	}
	return "unknown"
}

// Environment is the probed host capability set. It is written once by the
// prober and only read afterwards.
type Environment struct {
	Tools Tools
	// Passthrough is set when commands go through firewalld.
	Passthrough bool
	StateMatch  StateMatch
	CtDir       CtDir
}

// DaemonWatcher reports whether the passthrough daemon is active.
type DaemonWatcher interface {
	IsRunning() (bool, error)
}

// ProbeOptions configures environment discovery. Zero values use the host.
type ProbeOptions struct {
	Runner CommandRunner
	// Watcher is consulted only when UseFirewalld is set.
	Watcher      DaemonWatcher
	UseFirewalld bool
	// Binary overrides. Empty means a PATH lookup.
	Ebtables    string
	Iptables    string
	Ip6tables   string
	FirewallCmd string
	// LookPath and KernelRelease replace the host lookups in tests.
	LookPath      func(file string) (string, error)
	KernelRelease func() (string, error)
	// Retry governs the firewalld liveness probe.
	Retry  RetryConfig
	Logger *logging.Logger
}

// Prober discovers usable backend tools and the syntax quirks they need.
type Prober struct {
	opts    ProbeOptions
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewProber creates a prober.
func NewProber(opts ProbeOptions) *Prober {
	if opts.Runner == nil {
		opts.Runner = DefaultCommandRunner
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.KernelRelease == nil {
		opts.KernelRelease = kernelRelease
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Prober{
		opts:    opts,
		logger:  opts.Logger.WithComponent("probe"),
		metrics: metrics.Get(),
	}
}

// Probe builds the environment. It fails only when no backend tool is usable.
func (p *Prober) Probe(ctx context.Context) (*Environment, error) {
	env := &Environment{}

	if argv := p.passthrough(ctx); argv != nil {
		env.Passthrough = true
		env.Tools = Tools{
			Ebtables:  append(append([]string(nil), argv...), "eb"),
			Iptables:  append(append([]string(nil), argv...), "ipv4"),
			Ip6tables: append(append([]string(nil), argv...), "ipv6"),
		}
	} else {
		env.Tools = Tools{
			Ebtables:  p.lookup("ebtables", p.opts.Ebtables),
			Iptables:  p.lookup("iptables", p.opts.Iptables),
			Ip6tables: p.lookup("ip6tables", p.opts.Ip6tables),
		}
	}

	p.smokeTest(&env.Tools)

	if !env.Tools.Have(LayerEbtables) && !env.Tools.Have(LayerIptables) && !env.Tools.Have(LayerIp6tables) {
		return nil, errors.New(errors.KindToolUnavailable, "none of ebtables, iptables or ip6tables is usable")
	}

	for _, layer := range []Layer{LayerIptables, LayerIp6tables} {
		if env.Tools.Have(layer) {
			env.CtDir = p.probeCtDir()
			env.StateMatch = p.probeStateMatch(env.Tools, layer)
			break
		}
	}

	p.logger.Info("environment probed",
		"passthrough", env.Passthrough,
		"ebtables", env.Tools.Have(LayerEbtables),
		"iptables", env.Tools.Have(LayerIptables),
		"ip6tables", env.Tools.Have(LayerIp6tables),
		"state_match", env.StateMatch.String(),
		"ctdir", env.CtDir.String())
	return env, nil
}

// passthrough returns the firewall-cmd direct passthrough prefix when the
// daemon is active and answers.
func (p *Prober) passthrough(ctx context.Context) []string {
	if !p.opts.UseFirewalld || p.opts.Watcher == nil {
		return nil
	}
	running, err := p.opts.Watcher.IsRunning()
	if err != nil {
		p.logger.Debug("firewalld detection failed", "error", err)
		return nil
	}
	if !running {
		return nil
	}

	fwc := p.lookup("firewall-cmd", p.opts.FirewallCmd)
	if fwc == nil {
		p.logger.Warn("firewalld is running but firewall-cmd was not found")
		return nil
	}

	err = Retry(ctx, p.opts.Retry, func() error {
		out, status, err := p.opts.Runner.Run(fwc[0], "--state")
		if err != nil || status != 0 {
			return executionError(fwc[0]+" --state", out, status, err)
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("firewalld is registered but not answering, using tools directly", "error", err)
		return nil
	}
	return []string{fwc[0], "--direct", "--passthrough"}
}

func (p *Prober) lookup(name, override string) []string {
	if override != "" {
		name = override
	}
	path, err := p.opts.LookPath(name)
	if err != nil {
		p.logger.Debug("tool not found", "tool", name)
		return nil
	}
	return []string{path}
}

// smokeTest disables any tool that cannot list its tables.
func (p *Prober) smokeTest(t *Tools) {
	for _, l := range []Layer{LayerEbtables, LayerIptables, LayerIp6tables} {
		argv := t.Argv(l)
		ok := false
		if len(argv) > 0 {
			test := []string{"-n", "-L", "FORWARD"}
			if l == LayerEbtables {
				test = []string{"-t", "nat", "-L"}
			}
			args := append(append([]string(nil), argv[1:]...), test...)
			out, status, err := p.opts.Runner.Run(argv[0], args...)
			ok = err == nil && status == 0
			if !ok {
				p.logger.Warn("tool failed its smoke test and is disabled",
					"tool", l.String(), "status", status, "output", strings.TrimSpace(out))
				switch l {
				case LayerEbtables:
					t.Ebtables = nil
				case LayerIptables:
					t.Iptables = nil
				case LayerIp6tables:
					t.Ip6tables = nil
				}
			}
		}
		v := 0.0
		if ok {
			v = 1
		}
		p.metrics.ToolAvailable.WithLabelValues(l.String()).Set(v)
	}
}

func (p *Prober) probeCtDir() CtDir {
	release, err := p.opts.KernelRelease()
	if err != nil {
		p.logger.Debug("cannot read kernel release", "error", err)
		return CtDirUnknown
	}
	d := ctDirForRelease(release)
	p.logger.Debug("conntrack direction polarity", "kernel", release, "ctdir", d.String())
	return d
}

func (p *Prober) probeStateMatch(t Tools, layer Layer) StateMatch {
	argv := t.Argv(layer)
	args := append(append([]string(nil), argv[1:]...), "--version")
	out, status, err := p.opts.Runner.Run(argv[0], args...)
	if err != nil || status != 0 {
		p.logger.Debug("cannot determine tool version", "tool", layer.String(), "status", status)
		return StateMatchLegacy
	}
	return stateMatchForVersion(out)
}

// ctDirForRelease maps a kernel release such as "6.8.0-45-generic" to the
// conntrack direction polarity.
func ctDirForRelease(release string) CtDir {
	v, ok := parseVersion(release)
	if !ok {
		return CtDirUnknown
	}
	if versionAtLeast(v, [3]int{2, 6, 39}) {
		return CtDirCorrected
	}
	return CtDirOld
}

var iptablesVersionRe = regexp.MustCompile(`v(\d+\.\d+(?:\.\d+)?)`)

// stateMatchForVersion parses "iptables v1.8.7 (nf_tables)" style output.
// Versions from 1.4.16 on prefer the conntrack module.
func stateMatchForVersion(out string) StateMatch {
	m := iptablesVersionRe.FindStringSubmatch(out)
	if m == nil {
		return StateMatchLegacy
	}
	v, ok := parseVersion(m[1])
	if ok && versionAtLeast(v, [3]int{1, 4, 16}) {
		return StateMatchConntrack
	}
	return StateMatchLegacy
}

// parseVersion reads up to three leading dotted numbers.
func parseVersion(s string) ([3]int, bool) {
	var v [3]int
	end := strings.IndexFunc(s, func(r rune) bool { return (r < '0' || r > '9') && r != '.' })
	if end >= 0 {
		s = s[:end]
	}
	parts := strings.Split(strings.Trim(s, "."), ".")
	if len(parts) < 2 {
		return v, false
	}
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return v, false
		}
		v[i] = n
	}
	return v, true
}

func versionAtLeast(v, floor [3]int) bool {
	for i := range v {
		if v[i] != floor[i] {
			return v[i] > floor[i]
		}
	}
	return true
}
