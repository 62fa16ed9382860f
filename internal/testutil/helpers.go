package testutil

import (
	"os"
	"testing"
)

// VMEnv gates tests that change the host's ebtables and iptables state.
const VMEnv = "BRIDGEWALL_VM_TEST"

// RequireVM skips the test unless BRIDGEWALL_VM_TEST is set. Such tests
// install real chains and must only run in a disposable VM.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv(VMEnv) == "" {
		t.Skip("Skipping test: requires " + VMEnv + " environment")
	}
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: must be root")
	}
}
