//go:build linux

package firewall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/bridgewall/internal/filter"
	"grimm.is/bridgewall/internal/logging"
	"grimm.is/bridgewall/internal/testutil"
)

func TestDriverAgainstHostTools(t *testing.T) {
	testutil.RequireVM(t)

	const ifname = "bwvm0"
	for _, executor := range []string{ExecutorScript, ExecutorDirect} {
		t.Run(executor, func(t *testing.T) {
			d, err := NewDriver(Options{Executor: executor, Logger: logging.Discard()})
			require.NoError(t, err)
			t.Cleanup(func() { _ = d.TearDownAll(ifname) })

			require.NoError(t, d.ApplyPolicy(ifname, []*filter.Instance{tcpPort(filter.DirIn, "22", filter.ActionAccept)}))

			list := func() string {
				argv := append([]string{}, d.Environment().Tools.Argv(LayerIptables)...)
				argv = append(argv, "-S")
				out, status, err := DefaultCommandRunner.Run(argv[0], argv[1:]...)
				require.NoError(t, err)
				require.Zero(t, status, out)
				return out
			}
			assert.Contains(t, list(), "--dport 22")

			require.NoError(t, d.TearDownAll(ifname))
			out := list()
			assert.False(t, strings.Contains(out, ifname), "chains left behind:\n%s", out)
		})
	}
}
