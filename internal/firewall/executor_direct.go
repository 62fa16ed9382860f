package firewall

import (
	"grimm.is/bridgewall/internal/logging"
	"grimm.is/bridgewall/internal/metrics"
)

// DirectExecutor submits each command as its own process. It is the natural
// choice for the passthrough daemon, where every call is a separate request.
type DirectExecutor struct {
	runner  CommandRunner
	tools   Tools
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewDirectExecutor creates a discrete rule-list executor.
func NewDirectExecutor(runner CommandRunner, tools Tools, logger *logging.Logger) *DirectExecutor {
	if runner == nil {
		runner = DefaultCommandRunner
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DirectExecutor{
		runner:  runner,
		tools:   tools,
		logger:  logger.WithComponent("executor"),
		metrics: metrics.Get(),
	}
}

// Apply implements Executor.
func (e *DirectExecutor) Apply(cmds []Command) error {
	queue := append([]Command(nil), cmds...)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]

		more, err := runOne(e.runner, e.tools, c, e.logger, e.metrics)
		if err != nil {
			return err
		}
		queue = prepend(more, queue)
	}
	return nil
}
