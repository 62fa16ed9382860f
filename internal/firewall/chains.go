package firewall

import (
	"fmt"
	"strconv"
	"strings"

	"grimm.is/bridgewall/internal/brand"
	"grimm.is/bridgewall/internal/filter"
)

// Chain lifecycle markers. The temporary generation uses J/P, the active one I/O.
const (
	prefixIn      = 'I'
	prefixOut     = 'O'
	prefixTempIn  = 'J'
	prefixTempOut = 'P'
)

// Generation selects the temporary or active chain set of an interface.
type Generation int

const (
	GenTemp Generation = iota
	GenActive
)

func (g Generation) String() string {
	if g == GenTemp {
		return "temporary"
	}
	return "active"
}

// prefix returns the lifecycle letter. incoming is traffic coming from the VM.
func (g Generation) prefix(incoming bool) byte {
	switch {
	case g == GenTemp && incoming:
		return prefixTempIn
	case g == GenTemp:
		return prefixTempOut
	case incoming:
		return prefixIn
	}
	return prefixOut
}

// alphabet lists the prefixes sub-chains of this generation start with.
func (g Generation) alphabet() string {
	return string([]byte{g.prefix(true), g.prefix(false)})
}

// activePrefix maps a temporary prefix to its active counterpart.
func activePrefix(p byte) byte {
	switch p {
	case prefixTempIn:
		return prefixIn
	case prefixTempOut:
		return prefixOut
	}
	return p
}

// Bridge-layer hook chains of the nat table.
const (
	ebHookIncoming = "PREROUTING"
	ebHookOutgoing = "POSTROUTING"
)

// stpDestination is the bridge group address spanning-tree BPDUs are sent to.
const stpDestination = "01:80:c2:00:00:00"

func ebRootChain(prefix byte, ifname string) string {
	return fmt.Sprintf("%s-%c-%s", brand.ChainNamespace, prefix, ifname)
}

func ebSubChain(prefix byte, ifname, suffix string) string {
	return fmt.Sprintf("%c-%s-%s", prefix, ifname, suffix)
}

// ebChain names the chain a rule with the given suffix is appended to.
func ebChain(prefix byte, ifname, suffix string) string {
	if suffix == "" || suffix == filter.RootChain {
		return ebRootChain(prefix, ifname)
	}
	return ebSubChain(prefix, ifname, suffix)
}

// subChainProto describes how a protocol sub-chain is selected from the root chain.
type subChainProto struct {
	name      string
	etherType uint16
	// match overrides the "-p etherType" selector.
	match []string
}

// Sub-chain suffixes are matched against these names by prefix, in order.
var subChainProtos = []subChainProto{
	{name: "ipv4", etherType: 0x0800},
	{name: "ipv6", etherType: 0x86dd},
	{name: "arp", etherType: 0x0806},
	{name: "rarp", etherType: 0x8035},
	{name: "mac", match: []string{}},
	{name: "vlan", etherType: 0x8100},
	{name: "stp", match: []string{"-d", stpDestination}},
}

// subChainProtoFor finds the protocol a sub-chain suffix such as "arp-spoofing" belongs to.
func subChainProtoFor(suffix string) (subChainProto, bool) {
	for _, p := range subChainProtos {
		if strings.HasPrefix(suffix, p.name) {
			return p, true
		}
	}
	return subChainProto{}, false
}

func (p subChainProto) selector() []string {
	if p.match != nil {
		return p.match
	}
	return []string{"-p", fmt.Sprintf("0x%04x", p.etherType)}
}

func ebNat(args ...string) []string {
	return append([]string{"-t", "nat"}, args...)
}

func ebHook(incoming bool) (hook, flag string) {
	if incoming {
		return ebHookIncoming, "-i"
	}
	return ebHookOutgoing, "-o"
}

func ebCreateRoot(l *CommandList, gen Generation, incoming bool, ifname string) {
	l.Add(LayerEbtables, ebNat("-N", ebRootChain(gen.prefix(incoming), ifname))...)
}

func ebLinkRoot(l *CommandList, gen Generation, incoming bool, ifname string) {
	hook, flag := ebHook(incoming)
	l.Add(LayerEbtables, ebNat("-A", hook, flag, ifname, "-j", ebRootChain(gen.prefix(incoming), ifname))...)
}

func ebUnlinkRoot(l *CommandList, gen Generation, incoming bool, ifname string) {
	hook, flag := ebHook(incoming)
	l.AddIgnored(LayerEbtables, ebNat("-D", hook, flag, ifname, "-j", ebRootChain(gen.prefix(incoming), ifname))...)
}

func ebRemoveRoot(l *CommandList, gen Generation, incoming bool, ifname string) {
	chain := ebRootChain(gen.prefix(incoming), ifname)
	l.AddIgnored(LayerEbtables, ebNat("-F", chain)...)
	l.AddIgnored(LayerEbtables, ebNat("-X", chain)...)
}

func ebRenameRootArgs(incoming bool, ifname string) []string {
	return ebNat("-E",
		ebRootChain(GenTemp.prefix(incoming), ifname),
		ebRootChain(GenActive.prefix(incoming), ifname))
}

func ebRenameRoot(l *CommandList, incoming bool, ifname string) {
	l.AddIgnored(LayerEbtables, ebRenameRootArgs(incoming, ifname)...)
}

// ebRenameRootChecked renames a temporary root chain as a command whose
// failure fails the submission.
func ebRenameRootChecked(l *CommandList, incoming bool, ifname string) {
	l.Add(LayerEbtables, ebRenameRootArgs(incoming, ifname)...)
}

// ebSubChainCommands creates a fresh sub-chain and hooks it into its root chain.
func ebSubChainCommands(gen Generation, incoming bool, ifname, suffix string) ([]Command, error) {
	proto, ok := subChainProtoFor(suffix)
	if !ok {
		return nil, compileErrorf("chain %q does not start with a known protocol name", suffix)
	}
	prefix := gen.prefix(incoming)
	chain := ebSubChain(prefix, ifname, suffix)

	var l CommandList
	l.AddIgnored(LayerEbtables, ebNat("-F", chain)...)
	l.AddIgnored(LayerEbtables, ebNat("-X", chain)...)
	l.Add(LayerEbtables, ebNat("-N", chain)...)

	args := ebNat("-A", ebRootChain(prefix, ifname))
	args = append(args, proto.selector()...)
	args = append(args, "-j", chain)
	l.Add(LayerEbtables, args...)
	return l.Commands(), nil
}

// ebRemoveSubChains flushes the generation's root chains, then flushes and
// deletes every chain reachable from them, children first.
func ebRemoveSubChains(l *CommandList, lister ChainLister, gen Generation, ifname string) {
	roots := []string{ebRootChain(gen.prefix(true), ifname), ebRootChain(gen.prefix(false), ifname)}
	chains := discoverChains(lister, LayerEbtables, roots, gen.alphabet())

	for _, root := range roots {
		l.AddIgnored(LayerEbtables, ebNat("-F", root)...)
	}
	for _, c := range chains {
		l.AddIgnored(LayerEbtables, ebNat("-F", c)...)
	}
	for _, c := range chains {
		l.AddIgnored(LayerEbtables, ebNat("-X", c)...)
	}
}

// ebRenameSubChains gives every temporary sub-chain its active name,
// replacing any leftover chain of that name.
func ebRenameSubChains(l *CommandList, lister ChainLister, ifname string) {
	roots := []string{ebRootChain(prefixTempIn, ifname), ebRootChain(prefixTempOut, ifname)}
	for _, c := range discoverChains(lister, LayerEbtables, roots, GenTemp.alphabet()) {
		name := string(activePrefix(c[0])) + c[1:]
		l.AddIgnored(LayerEbtables, ebNat("-F", name)...)
		l.AddIgnored(LayerEbtables, ebNat("-X", name)...)
		l.AddIgnored(LayerEbtables, ebNat("-E", c, name)...)
	}
}

// IP-layer base chains shared by all interfaces.
func baseChain(name string) string {
	return brand.ChainNamespace + "-" + name
}

var (
	virtInChain     = baseChain("in")
	virtOutChain    = baseChain("out")
	virtInPostChain = baseChain("in-post")
	hostInChain     = baseChain("host-in")
)

// iptLeg is one of the three IP-layer root chains of an interface.
type iptLeg struct {
	table    byte // F: forwarded traffic, H: traffic to the host
	incoming bool // true for traffic coming from the VM
	base     string
}

// iptLegs in creation order.
var iptLegs = []iptLeg{
	{table: 'F', incoming: false, base: virtOutChain},
	{table: 'F', incoming: true, base: virtInChain},
	{table: 'H', incoming: true, base: hostInChain},
}

func iptRootChain(table, prefix byte, ifname string) string {
	return fmt.Sprintf("%c%c-%s", table, prefix, ifname)
}

func (g iptLeg) chain(gen Generation, ifname string) string {
	return iptRootChain(g.table, gen.prefix(g.incoming), ifname)
}

func physdevMatch(incoming bool, ifname string) []string {
	if incoming {
		return []string{"-m", "physdev", "--physdev-in", ifname}
	}
	return []string{"-m", "physdev", "--physdev-is-bridged", "--physdev-out", ifname}
}

func legacyPhysdevOut(ifname string) []string {
	return []string{"-m", "physdev", "--physdev-out", ifname}
}

func join(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// iptCreateBaseChains makes sure the shared base chains exist and are hooked
// into FORWARD and INPUT at their fixed positions.
func iptCreateBaseChains(l *CommandList, layer Layer) {
	for _, c := range []string{virtInChain, virtOutChain, virtInPostChain, hostInChain} {
		l.AddIgnored(layer, "-N", c)
	}
	iptLinkBaseChain(l, layer, virtInChain, "FORWARD", 1)
	iptLinkBaseChain(l, layer, virtOutChain, "FORWARD", 2)
	iptLinkBaseChain(l, layer, virtInPostChain, "FORWARD", 3)
	iptLinkBaseChain(l, layer, hostInChain, "INPUT", 1)
}

// iptLinkBaseChain inserts "-j child" at position pos of parent unless it is
// already there. A jump found at another position is moved.
func iptLinkBaseChain(l *CommandList, layer Layer, child, parent string, pos int) {
	l.AddQuery(layer, false, func(lines []string) ([]Command, error) {
		return relinkCommands(layer, child, parent, pos, findRuleNumber(lines, child)), nil
	}, "-L", parent, "-n", "--line-numbers")
}

// relinkCommands computes the commands that move the jump to child to pos.
// current is the rule number the jump is at now, 0 if absent.
func relinkCommands(layer Layer, child, parent string, pos, current int) []Command {
	insert := Command{Layer: layer, Args: []string{"-I", parent, strconv.Itoa(pos), "-j", child}}
	switch {
	case current == 0:
		return []Command{insert}
	case current == pos:
		return nil
	}
	stale := current
	if current >= pos {
		stale = current + 1
	}
	return []Command{insert, {Layer: layer, Args: []string{"-D", parent, strconv.Itoa(stale)}}}
}

// findRuleNumber scans "-L chain -n --line-numbers" output for a rule
// targeting target and returns its number.
func findRuleNumber(lines []string, target string) int {
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != target {
			continue
		}
		if n, err := strconv.Atoi(fields[0]); err == nil {
			return n
		}
	}
	return 0
}

func iptCreateTempRoots(l *CommandList, layer Layer, ifname string) {
	for _, leg := range iptLegs {
		l.Add(layer, "-N", leg.chain(GenTemp, ifname))
	}
}

func iptLinkTempRoots(l *CommandList, layer Layer, ifname string) {
	for _, leg := range iptLegs {
		l.Add(layer, join([]string{"-A", leg.base}, physdevMatch(leg.incoming, ifname), []string{"-g", leg.chain(GenTemp, ifname)})...)
	}
}

func iptUnlinkRoots(l *CommandList, layer Layer, gen Generation, ifname string) {
	for _, leg := range iptLegs {
		chain := leg.chain(gen, ifname)
		l.AddIgnored(layer, join([]string{"-D", leg.base}, physdevMatch(leg.incoming, ifname), []string{"-g", chain})...)
		if !leg.incoming {
			l.AddIgnored(layer, join([]string{"-D", leg.base}, legacyPhysdevOut(ifname), []string{"-g", chain})...)
		}
	}
}

func iptRemoveRoots(l *CommandList, layer Layer, gen Generation, ifname string) {
	for _, leg := range iptLegs {
		chain := leg.chain(gen, ifname)
		l.AddIgnored(layer, "-F", chain)
		l.AddIgnored(layer, "-X", chain)
	}
}

func iptRenameTempRoots(l *CommandList, layer Layer, ifname string) {
	for _, leg := range iptLegs {
		l.AddIgnored(layer, "-E", leg.chain(GenTemp, ifname), leg.chain(GenActive, ifname))
	}
}

// iptSetupVirtInPost accepts forwarded traffic from the interface once the
// per-interface chains had their say. The rule is only added once.
func iptSetupVirtInPost(l *CommandList, layer Layer, ifname string) {
	rule := join([]string{"-A", virtInPostChain}, physdevMatch(true, ifname), []string{"-j", "ACCEPT"})
	l.AddQuery(layer, false, func(lines []string) ([]Command, error) {
		if hasPhysdevIn(lines, ifname) {
			return nil, nil
		}
		return []Command{{Layer: layer, Args: rule}}, nil
	}, "-n", "-L", virtInPostChain)
}

func hasPhysdevIn(lines []string, ifname string) bool {
	for _, line := range lines {
		fields := strings.Fields(line)
		for i := 0; i+1 < len(fields); i++ {
			if fields[i] == "--physdev-in" && fields[i+1] == ifname {
				return true
			}
		}
	}
	return false
}

func iptClearVirtInPost(l *CommandList, layer Layer, ifname string) {
	l.AddIgnored(layer, join([]string{"-D", virtInPostChain}, physdevMatch(true, ifname), []string{"-j", "ACCEPT"})...)
}
