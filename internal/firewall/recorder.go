package firewall

import (
	"strings"
	"sync"
)

// RecordingRunner is a CommandRunner that executes nothing. It records every
// invocation and reports success. Chains created, renamed or deleted by
// recorded commands are tracked in memory so later listings in the same run
// see them; any other chain lists as empty.
type RecordingRunner struct {
	mu     sync.Mutex
	lines  []string
	chains map[string][]string
}

// Run implements CommandRunner.
func (r *RecordingRunner) Run(name string, args ...string) (string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := name
	if len(args) > 0 {
		line += " " + shellJoin(args)
	}
	r.lines = append(r.lines, line)
	return r.apply(name, args), 0, nil
}

// apply updates the tracked chains for one command and returns its output.
func (r *RecordingRunner) apply(name string, args []string) string {
	if r.chains == nil {
		r.chains = map[string][]string{}
	}
	table := "filter"
	key := func(chain string) string { return name + " " + table + " " + chain }

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--version":
			return name + " v1.8.7 (nf_tables)"
		case "-t":
			if i+1 < len(args) {
				table = args[i+1]
				i++
			}
			continue
		}
		rest := args[i+1:]
		if len(rest) == 0 {
			continue
		}
		k := key(rest[0])
		rules, known := r.chains[k]
		switch args[i] {
		case "-N":
			r.chains[k] = []string{}
		case "-A", "-I":
			if known {
				r.chains[k] = append(rules, strings.Join(rest[1:], " "))
			}
		case "-F":
			if known {
				r.chains[k] = []string{}
			}
		case "-X":
			delete(r.chains, k)
		case "-E":
			if known && len(rest) > 1 {
				delete(r.chains, k)
				r.chains[key(rest[1])] = rules
			}
		case "-L", "-S":
			var out []string
			for _, rule := range rules {
				out = append(out, "-A "+rest[0]+" "+rule)
			}
			return strings.Join(out, "\n")
		default:
			continue
		}
		return ""
	}
	return ""
}

// Lines returns the recorded command lines in execution order.
func (r *RecordingRunner) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// String joins the recorded lines, one per line.
func (r *RecordingRunner) String() string {
	lines := r.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// PlanEnvironment is the environment assumed when no host is probed: all
// three tools invoked by name, conntrack state matching and a current kernel.
func PlanEnvironment() *Environment {
	return &Environment{
		Tools: Tools{
			Ebtables:  []string{"ebtables"},
			Iptables:  []string{"iptables"},
			Ip6tables: []string{"ip6tables"},
		},
		StateMatch: StateMatchConntrack,
		CtDir:      CtDirCorrected,
	}
}

// NewPlanDriver returns a driver that records the commands an operation
// would run instead of running them.
func NewPlanDriver(env *Environment, opts Options) (*Driver, *RecordingRunner) {
	if env == nil {
		env = PlanEnvironment()
	}
	rec := &RecordingRunner{}
	exec := NewDirectExecutor(rec, env.Tools, opts.Logger)
	return NewDriverWithEnvironment(env, exec, NewCLIChainLister(rec, env.Tools), opts), rec
}
