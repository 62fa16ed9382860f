//go:build !linux

package firewall

import (
	"grimm.is/bridgewall/internal/errors"
)

func kernelRelease() (string, error) {
	return "", errors.New(errors.KindEnvironment, "kernel release is only available on linux")
}
