package firewall

// CommandRunner runs one external process.
//
// Run returns the combined stdout/stderr and the exit status. The error is
// non-nil only when the process could not be started at all; a command that
// ran and failed reports a non-zero status instead.
type CommandRunner interface {
	Run(name string, args ...string) (output string, status int, err error)
}

// RealCommandRunner implements CommandRunner using os/exec.
type RealCommandRunner struct{}

// DefaultCommandRunner is the default runner used when none is injected.
var DefaultCommandRunner CommandRunner = &RealCommandRunner{}

// Executor submits an ordered command list to the kernel filtering tools.
//
// Commands run strictly in order. The first failing command without
// IgnoreErr aborts the submission and its error is returned. Commands
// returned from a Query callback run immediately after the query.
type Executor interface {
	Apply(cmds []Command) error
}

// ChainLister answers "which chains does chain X jump to".
type ChainLister interface {
	Children(layer Layer, chain string) ([]string, error)
}
