package firewall

import (
	"fmt"
	"regexp"
	"strings"

	"grimm.is/bridgewall/internal/logging"
	"grimm.is/bridgewall/internal/metrics"
)

// DefaultShell runs generated scripts.
const DefaultShell = "/bin/sh"

var shellSafe = regexp.MustCompile(`^[a-zA-Z0-9_./:,=@%+-]+$`)

// shellQuote quotes s for a POSIX shell when it contains special characters.
func shellQuote(s string) string {
	if s != "" && shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// ScriptExecutor batches consecutive commands into one shell script run as a
// single process. Each checked command aborts the script on failure.
// Query commands split the batch: pending commands run first, then the query
// runs on its own so its callback can see the output.
type ScriptExecutor struct {
	runner  CommandRunner
	tools   Tools
	shell   string
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewScriptExecutor creates a batch-script executor.
func NewScriptExecutor(runner CommandRunner, tools Tools, shell string, logger *logging.Logger) *ScriptExecutor {
	if runner == nil {
		runner = DefaultCommandRunner
	}
	if shell == "" {
		shell = DefaultShell
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ScriptExecutor{
		runner:  runner,
		tools:   tools,
		shell:   shell,
		logger:  logger.WithComponent("executor"),
		metrics: metrics.Get(),
	}
}

// Apply implements Executor.
func (e *ScriptExecutor) Apply(cmds []Command) error {
	queue := append([]Command(nil), cmds...)
	var batch []Command

	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]

		if c.Query == nil {
			batch = append(batch, c)
			continue
		}

		if err := e.runBatch(batch); err != nil {
			return err
		}
		batch = nil

		more, err := runOne(e.runner, e.tools, c, e.logger, e.metrics)
		if err != nil {
			return err
		}
		queue = prepend(more, queue)
	}
	return e.runBatch(batch)
}

func (e *ScriptExecutor) runBatch(batch []Command) error {
	if len(batch) == 0 {
		return nil
	}
	script, err := RenderScript(e.tools, batch)
	if err != nil {
		return err
	}
	if script == "" {
		return nil
	}

	out, status, err := e.runner.Run(e.shell, "-c", script)
	if err != nil || status != 0 {
		e.metrics.ScriptRunsTotal.WithLabelValues("failure").Inc()
		e.logger.Debug("script failed", "status", status, "commands", len(batch))
		return executionError(failedCommand(out, batch), out, status, err)
	}
	e.metrics.ScriptRunsTotal.WithLabelValues("success").Inc()
	return nil
}

var failureLine = regexp.MustCompile(`Failure to execute command '(.*)' : '`)

// failedCommand extracts the failing command from the script output.
func failedCommand(out string, batch []Command) string {
	if m := failureLine.FindStringSubmatch(out); m != nil {
		return m[1]
	}
	return fmt.Sprintf("script of %d commands", len(batch))
}

// RenderScript renders cmds as a POSIX shell script. Query callbacks are
// ignored here; the executor runs query commands separately. Ignored
// commands whose tool is unavailable are dropped; checked ones are an error.
func RenderScript(tools Tools, cmds []Command) (string, error) {
	var used [3]bool
	var body strings.Builder

	for _, c := range cmds {
		if !tools.Have(c.Layer) {
			if c.IgnoreErr {
				continue
			}
			return "", toolUnavailable(c.Layer)
		}
		used[c.Layer] = true

		line := "$" + c.Layer.shellVar() + " " + shellJoin(c.Args)
		if c.IgnoreErr {
			body.WriteString(line + " >/dev/null 2>&1\n")
			continue
		}
		fmt.Fprintf(&body, "cmd=%s\n", shellQuote(c.String()))
		fmt.Fprintf(&body, "res=$(%s 2>&1)\n", line)
		body.WriteString("if [ $? -ne 0 ]; then\n")
		body.WriteString("    echo \"Failure to execute command '${cmd}' : '${res}'.\"\n")
		body.WriteString("    exit 1\n")
		body.WriteString("fi\n")
	}

	if body.Len() == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, l := range []Layer{LayerEbtables, LayerIptables, LayerIp6tables} {
		if used[l] {
			fmt.Fprintf(&sb, "%s=%s\n", l.shellVar(), shellQuote(shellJoin(tools.Argv(l))))
		}
	}
	sb.WriteString(body.String())
	sb.WriteString("exit 0\n")
	return sb.String(), nil
}
