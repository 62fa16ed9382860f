package firewall

import (
	"strings"

	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/logging"
	"grimm.is/bridgewall/internal/metrics"
)

// runOne executes a single command outside of any script. It backs the
// direct executor and the query steps of the script executor.
func runOne(runner CommandRunner, tools Tools, c Command, logger *logging.Logger, m *metrics.Registry) ([]Command, error) {
	argv := tools.Argv(c.Layer)
	if len(argv) == 0 {
		if c.IgnoreErr {
			return nil, nil
		}
		return nil, toolUnavailable(c.Layer)
	}

	args := make([]string, 0, len(argv)-1+len(c.Args))
	args = append(args, argv[1:]...)
	args = append(args, c.Args...)

	out, status, err := runner.Run(argv[0], args...)
	if err != nil || status != 0 {
		m.CommandsTotal.WithLabelValues(c.Layer.String(), "failure").Inc()
		if c.IgnoreErr {
			logger.Debug("ignored command failure", "command", c.String(), "status", status)
			return nil, nil
		}
		return nil, executionError(c.String(), out, status, err)
	}
	m.CommandsTotal.WithLabelValues(c.Layer.String(), "success").Inc()

	if c.Query == nil {
		return nil, nil
	}
	more, err := c.Query(splitLines(out))
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindExecution, "processing output of '%s'", c.String())
	}
	return more, nil
}

func toolUnavailable(l Layer) error {
	return errors.Attr(
		errors.Errorf(errors.KindToolUnavailable, "cannot create rule since %s tool is missing", l),
		"tool", l.String())
}

func executionError(command, output string, status int, cause error) error {
	output = strings.TrimSpace(output)
	var err error
	if cause != nil {
		err = errors.Wrapf(cause, errors.KindExecution, "failure to execute command '%s'", command)
	} else {
		err = errors.Errorf(errors.KindExecution, "failure to execute command '%s' : '%s'", command, output)
	}
	err = errors.Attr(err, "command", command)
	err = errors.Attr(err, "output", output)
	return errors.Attr(err, "status", status)
}

// prepend returns more followed by rest.
func prepend(more, rest []Command) []Command {
	if len(more) == 0 {
		return rest
	}
	out := make([]Command, 0, len(more)+len(rest))
	out = append(out, more...)
	return append(out, rest...)
}
