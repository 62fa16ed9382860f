//go:build !linux
// +build !linux

package firewall

import "fmt"

// Run always fails: the filtering tools only exist on Linux.
func (r *RealCommandRunner) Run(name string, args ...string) (string, int, error) {
	return "", -1, fmt.Errorf("command %s: not supported on this platform", name)
}
