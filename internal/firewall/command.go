package firewall

import (
	"strings"
)

// Layer selects the backend tool a command is submitted to.
type Layer int

const (
	LayerEbtables Layer = iota
	LayerIptables
	LayerIp6tables
)

func (l Layer) String() string {
	switch l {
	case LayerEbtables:
		return "ebtables"
	case LayerIptables:
		return "iptables"
	case LayerIp6tables:
		return "ip6tables"
	}
	return "unknown"
}

// shellVar is the variable holding the tool invocation in generated scripts.
func (l Layer) shellVar() string {
	switch l {
	case LayerEbtables:
		return "EBT"
	case LayerIptables:
		return "IPT"
	}
	return "IP6T"
}

// QueryFunc inspects a command's output lines and returns follow-up commands.
type QueryFunc func(lines []string) ([]Command, error)

// Command is one fully rendered backend invocation.
type Command struct {
	Layer Layer
	Args  []string
	// IgnoreErr makes a failure non-fatal (best-effort cleanup).
	IgnoreErr bool
	// Query, when set, receives the command output on success.
	Query QueryFunc
}

// String renders the command as it would be typed.
func (c Command) String() string {
	return c.Layer.String() + " " + strings.Join(c.Args, " ")
}

// CommandList accumulates commands for one submission.
type CommandList struct {
	cmds []Command
}

// Add appends a command whose failure aborts the submission.
func (l *CommandList) Add(layer Layer, args ...string) {
	l.cmds = append(l.cmds, Command{Layer: layer, Args: args})
}

// AddIgnored appends a best-effort command.
func (l *CommandList) AddIgnored(layer Layer, args ...string) {
	l.cmds = append(l.cmds, Command{Layer: layer, Args: args, IgnoreErr: true})
}

// AddQuery appends a command whose output drives fn.
func (l *CommandList) AddQuery(layer Layer, ignoreErr bool, fn QueryFunc, args ...string) {
	l.cmds = append(l.cmds, Command{Layer: layer, Args: args, IgnoreErr: ignoreErr, Query: fn})
}

// Append adds already built commands.
func (l *CommandList) Append(cmds ...Command) {
	l.cmds = append(l.cmds, cmds...)
}

// Commands returns the accumulated commands.
func (l *CommandList) Commands() []Command {
	return l.cmds
}

// Len returns the number of accumulated commands.
func (l *CommandList) Len() int {
	return len(l.cmds)
}

// Tools holds the argv prefix for each backend. A nil entry means the tool
// is unavailable.
type Tools struct {
	Ebtables  []string
	Iptables  []string
	Ip6tables []string
}

// Argv returns the invocation prefix for layer.
func (t Tools) Argv(l Layer) []string {
	switch l {
	case LayerEbtables:
		return t.Ebtables
	case LayerIptables:
		return t.Iptables
	case LayerIp6tables:
		return t.Ip6tables
	}
	return nil
}

// Have reports whether the tool for layer is usable.
func (t Tools) Have(l Layer) bool {
	return len(t.Argv(l)) > 0
}

func splitLines(out string) []string {
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}
