package firewall

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"grimm.is/bridgewall/internal/logging"
	"grimm.is/bridgewall/internal/network"
)

// simTable is one backend's chain set.
type simTable struct {
	builtins map[string]bool
	chains   map[string][]string
}

func newSimTable(builtins ...string) *simTable {
	t := &simTable{builtins: map[string]bool{}, chains: map[string][]string{}}
	for _, b := range builtins {
		t.builtins[b] = true
		t.chains[b] = nil
	}
	return t
}

// netfilterSim is an in-memory stand-in for ebtables, iptables and ip6tables.
// It also runs the scripts the script executor generates.
type netfilterSim struct {
	mu     sync.Mutex
	tables map[string]*simTable
	// failOn injects a failure for matching commands.
	failOn func(tool string, args []string) bool
	log    []string
}

func newNetfilterSim() *netfilterSim {
	return &netfilterSim{tables: map[string]*simTable{
		"ebtables":  newSimTable("PREROUTING", "POSTROUTING", "OUTPUT"),
		"iptables":  newSimTable("INPUT", "FORWARD", "OUTPUT"),
		"ip6tables": newSimTable("INPUT", "FORWARD", "OUTPUT"),
	}}
}

var simTools = Tools{
	Ebtables:  []string{"ebtables"},
	Iptables:  []string{"iptables"},
	Ip6tables: []string{"ip6tables"},
}

// Run implements CommandRunner.
func (s *netfilterSim) Run(name string, args ...string) (string, int, error) {
	if name == DefaultShell && len(args) == 2 && args[0] == "-c" {
		return s.runScript(args[1])
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec(name, args)
}

var builtinTargets = map[string]bool{"ACCEPT": true, "DROP": true, "RETURN": true, "REJECT": true, "CONTINUE": true}

func simTarget(spec []string) string {
	for i := 0; i+1 < len(spec); i++ {
		if spec[i] == "-j" || spec[i] == "-g" {
			return spec[i+1]
		}
	}
	return ""
}

func (s *netfilterSim) exec(tool string, args []string) (string, int, error) {
	t, ok := s.tables[tool]
	if !ok {
		return tool + ": command not found", 127, nil
	}
	s.log = append(s.log, tool+" "+strings.Join(args, " "))
	if s.failOn != nil && s.failOn(tool, args) {
		return "injected failure", 1, nil
	}
	if len(args) >= 2 && args[0] == "-t" {
		args = args[2:]
	}
	if len(args) == 0 {
		return "missing command", 2, nil
	}
	fail := func(msg string) (string, int, error) { return tool + ": " + msg, 1, nil }
	noChain := func() (string, int, error) { return fail("No chain/target/match by that name.") }

	var flags []string
	var positional []string
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			flags = append(flags, a)
		} else {
			positional = append(positional, a)
		}
	}
	has := func(f string) bool {
		for _, x := range flags {
			if x == f {
				return true
			}
		}
		return false
	}

	switch {
	case args[0] == "--version":
		return tool + " v1.8.7 (nf_tables)", 0, nil

	case has("-L"):
		if len(positional) == 0 {
			return s.listAll(t), 0, nil
		}
		chain := positional[0]
		rules, ok := t.chains[chain]
		if !ok {
			return noChain()
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Chain %s\n", chain)
		for i, r := range rules {
			target := simTarget(strings.Fields(r))
			if has("--line-numbers") {
				fmt.Fprintf(&sb, "%d %s %s\n", i+1, target, r)
			} else {
				fmt.Fprintf(&sb, "%s %s\n", target, r)
			}
		}
		return sb.String(), 0, nil

	case args[0] == "-S":
		chain := args[1]
		rules, ok := t.chains[chain]
		if !ok {
			return noChain()
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "-N %s\n", chain)
		for _, r := range rules {
			fmt.Fprintf(&sb, "-A %s %s\n", chain, r)
		}
		return sb.String(), 0, nil

	case args[0] == "-N":
		if _, ok := t.chains[args[1]]; ok {
			return fail("Chain already exists.")
		}
		t.chains[args[1]] = nil
		return "", 0, nil

	case args[0] == "-F":
		if _, ok := t.chains[args[1]]; !ok {
			return noChain()
		}
		t.chains[args[1]] = nil
		return "", 0, nil

	case args[0] == "-X":
		chain := args[1]
		rules, ok := t.chains[chain]
		if !ok || t.builtins[chain] {
			return noChain()
		}
		if len(rules) > 0 {
			return fail("Directory not empty.")
		}
		if s.referenced(t, chain) {
			return fail("Too many links.")
		}
		delete(t.chains, chain)
		return "", 0, nil

	case args[0] == "-E":
		old, nw := args[1], args[2]
		if _, ok := t.chains[old]; !ok {
			return noChain()
		}
		if _, ok := t.chains[nw]; ok {
			return fail("File exists.")
		}
		t.chains[nw] = t.chains[old]
		delete(t.chains, old)
		for c, rules := range t.chains {
			for i, r := range rules {
				f := strings.Fields(r)
				for j := 1; j < len(f); j++ {
					if (f[j-1] == "-j" || f[j-1] == "-g") && f[j] == old {
						f[j] = nw
					}
				}
				t.chains[c][i] = strings.Join(f, " ")
			}
		}
		return "", 0, nil

	case args[0] == "-A" || args[0] == "-I":
		chain := args[1]
		rules, ok := t.chains[chain]
		if !ok {
			return noChain()
		}
		spec := args[2:]
		pos := len(rules)
		if args[0] == "-I" {
			n, err := strconv.Atoi(args[2])
			if err != nil || n < 1 || n > len(rules)+1 {
				return fail("Index of insertion too big.")
			}
			pos = n - 1
			spec = args[3:]
		}
		if target := simTarget(spec); target != "" && !builtinTargets[target] {
			if _, ok := t.chains[target]; !ok {
				return noChain()
			}
		}
		line := strings.Join(spec, " ")
		rules = append(rules, "")
		copy(rules[pos+1:], rules[pos:])
		rules[pos] = line
		t.chains[chain] = rules
		return "", 0, nil

	case args[0] == "-D":
		chain := args[1]
		rules, ok := t.chains[chain]
		if !ok {
			return noChain()
		}
		idx := -1
		if len(args) == 3 {
			if n, err := strconv.Atoi(args[2]); err == nil {
				idx = n - 1
			}
		}
		if idx < 0 {
			line := strings.Join(args[2:], " ")
			for i, r := range rules {
				if r == line {
					idx = i
					break
				}
			}
		}
		if idx < 0 || idx >= len(rules) {
			return fail("Bad rule (does a matching rule exist in that chain?).")
		}
		t.chains[chain] = append(rules[:idx:idx], rules[idx+1:]...)
		return "", 0, nil
	}
	return fail("unsupported command " + strings.Join(args, " "))
}

func (s *netfilterSim) referenced(t *simTable, chain string) bool {
	for _, rules := range t.chains {
		for _, r := range rules {
			if simTarget(strings.Fields(r)) == chain {
				return true
			}
		}
	}
	return false
}

func (s *netfilterSim) listAll(t *simTable) string {
	var sb strings.Builder
	for _, c := range sortedKeys(t.chains) {
		fmt.Fprintf(&sb, "Bridge chain: %s, entries: %d\n", c, len(t.chains[c]))
		for _, r := range t.chains[c] {
			sb.WriteString(r + "\n")
		}
	}
	return sb.String()
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// runScript interprets the scripts RenderScript produces.
func (s *netfilterSim) runScript(script string) (string, int, error) {
	vars := map[string][]string{}
	var cmd string
	run := func(line string) (string, int) {
		words := shellSplit(line)
		argv := vars[strings.TrimPrefix(words[0], "$")]
		args := append(append([]string(nil), argv[1:]...), words[1:]...)
		s.mu.Lock()
		defer s.mu.Unlock()
		out, status, _ := s.exec(argv[0], args)
		return out, status
	}

	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "", line == "fi", line == "exit 1",
			strings.HasPrefix(line, "if "), strings.HasPrefix(line, "echo "):
		case line == "exit 0":
			return "", 0, nil
		case strings.HasPrefix(line, "cmd="):
			cmd = shellSplit(line[len("cmd="):])[0]
		case strings.HasPrefix(line, "res=$("):
			inner := strings.TrimSuffix(strings.TrimPrefix(line, "res=$("), " 2>&1)")
			if out, status := run(inner); status != 0 {
				return fmt.Sprintf("Failure to execute command '%s' : '%s'.\n", cmd, strings.TrimSpace(out)), 1, nil
			}
		case strings.HasPrefix(line, "$"):
			run(strings.TrimSuffix(line, " >/dev/null 2>&1"))
		default:
			if i := strings.IndexByte(line, '='); i > 0 {
				vars[line[:i]] = strings.Fields(shellSplit(line[i+1:])[0])
			}
		}
	}
	return "", 0, nil
}

// shellSplit splits a line the way a POSIX shell splits words built from
// plain characters, single quotes and backslash escapes.
func shellSplit(s string) []string {
	var words []string
	var cur strings.Builder
	inWord, inQuote := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote:
			if c == '\'' {
				inQuote = false
			} else {
				cur.WriteByte(c)
			}
		case c == '\'':
			inQuote, inWord = true, true
		case c == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
			inWord = true
		case c == ' ' || c == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words
}

// snapshot copies the complete state of every table.
func (s *netfilterSim) snapshot() map[string]map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]map[string][]string{}
	for name, t := range s.tables {
		chains := map[string][]string{}
		for c, rules := range t.chains {
			chains[c] = append([]string{}, rules...)
		}
		out[name] = chains
	}
	return out
}

// chainsMentioning lists chains whose name contains s.
func (s *netfilterSim) chainsMentioning(sub string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name, t := range s.tables {
		for c := range t.chains {
			if strings.Contains(c, sub) {
				out = append(out, name+":"+c)
			}
		}
	}
	sort.Strings(out)
	return out
}

var lifecycleLetter = regexp.MustCompile(`^(libvirt-|[FH])?([JPIO])-`)

// normalizeChain maps temporary and active chain names onto one name.
func normalizeChain(name string) string {
	m := lifecycleLetter.FindStringSubmatchIndex(name)
	if m == nil {
		return name
	}
	letter := name[m[4]]
	switch letter {
	case 'J':
		letter = 'I'
	case 'P':
		letter = 'O'
	}
	return name[:m[4]] + string(letter) + name[m[5]:]
}

// effective returns what decides the interface's traffic: for every entry
// point the first rule naming the interface, expanded through its jumps,
// with chain names normalized across generations.
func (s *netfilterSim) effective(ifname string) map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := []struct {
		tool, chain, flag string
	}{
		{"ebtables", ebHookIncoming, "-i"},
		{"ebtables", ebHookOutgoing, "-o"},
		{"iptables", virtInChain, "--physdev-in"},
		{"iptables", virtOutChain, "--physdev-out"},
		{"iptables", hostInChain, "--physdev-in"},
		{"ip6tables", virtInChain, "--physdev-in"},
		{"ip6tables", virtOutChain, "--physdev-out"},
		{"ip6tables", hostInChain, "--physdev-in"},
	}
	out := map[string][]string{}
	for _, e := range entries {
		t := s.tables[e.tool]
		for _, r := range t.chains[e.chain] {
			f := strings.Fields(r)
			if !containsPair(f, e.flag, ifname) {
				continue
			}
			key := e.tool + ":" + e.chain
			out[key] = s.expand(t, simTarget(f), "", map[string]bool{})
			break
		}
	}
	return out
}

func containsPair(f []string, flag, value string) bool {
	for i := 0; i+1 < len(f); i++ {
		if f[i] == flag && f[i+1] == value {
			return true
		}
	}
	return false
}

func (s *netfilterSim) expand(t *simTable, chain, indent string, seen map[string]bool) []string {
	if seen[chain] {
		return nil
	}
	seen[chain] = true
	var out []string
	for _, r := range t.chains[chain] {
		f := strings.Fields(r)
		target := simTarget(f)
		for i := range f {
			f[i] = normalizeChain(f[i])
		}
		out = append(out, indent+strings.Join(f, " "))
		if _, ok := t.chains[target]; ok && !t.builtins[target] {
			out = append(out, s.expand(t, target, indent+"  ", seen)...)
		}
	}
	return out
}

// simDriver wires a driver to sim with the given executor.
// sysctlOn reports every bridge netfilter hook as enabled.
func sysctlOn(t *testing.T) *network.MockSystemController {
	t.Helper()
	sys := new(network.MockSystemController)
	sys.On("ReadSysctl", mock.Anything).Return("1", nil)
	return sys
}

func simDriver(t *testing.T, sim *netfilterSim, executor string, hook PhaseHook) *Driver {
	t.Helper()
	env := &Environment{Tools: simTools, StateMatch: StateMatchConntrack, CtDir: CtDirCorrected}

	var exec Executor
	if executor == ExecutorDirect {
		exec = NewDirectExecutor(sim, env.Tools, logging.Discard())
	} else {
		exec = NewScriptExecutor(sim, env.Tools, DefaultShell, logging.Discard())
	}

	return NewDriverWithEnvironment(env, exec, NewCLIChainLister(sim, env.Tools), Options{
		Sysctl:  sysctlOn(t),
		OnPhase: hook,
		Logger:  logging.Discard(),
	})
}
