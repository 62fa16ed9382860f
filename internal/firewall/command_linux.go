//go:build linux
// +build linux

package firewall

import (
	"errors"
	"fmt"
	"os/exec"
)

// Run executes a command and returns its combined output and exit status.
func (r *RealCommandRunner) Run(name string, args ...string) (string, int, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitErr.ExitCode(), nil
		}
		return string(out), -1, fmt.Errorf("command %s failed to start: %w", name, err)
	}
	return string(out), 0, nil
}
