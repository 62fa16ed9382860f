package firewall

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/logging"
)

type fakeWatcher struct {
	running bool
	err     error
}

func (w fakeWatcher) IsRunning() (bool, error) { return w.running, w.err }

func lookPathIn(found ...string) func(string) (string, error) {
	return func(file string) (string, error) {
		for _, f := range found {
			if f == file {
				return file, nil
			}
		}
		return "", fmt.Errorf("%s: not found", file)
	}
}

func release(r string) func() (string, error) {
	return func() (string, error) { return r, nil }
}

func TestProbeDirectTools(t *testing.T) {
	env, err := NewProber(ProbeOptions{
		Runner:        newNetfilterSim(),
		LookPath:      lookPathIn("ebtables", "iptables", "ip6tables"),
		KernelRelease: release("6.8.0-45-generic"),
		Logger:        logging.Discard(),
	}).Probe(context.Background())
	require.NoError(t, err)

	assert.False(t, env.Passthrough)
	assert.Equal(t, simTools, env.Tools)
	assert.Equal(t, StateMatchConntrack, env.StateMatch)
	assert.Equal(t, CtDirCorrected, env.CtDir)
}

func TestProbeDisablesBrokenTools(t *testing.T) {
	sim := newNetfilterSim()
	sim.failOn = func(tool string, _ []string) bool { return tool == "ip6tables" }

	env, err := NewProber(ProbeOptions{
		Runner:        sim,
		LookPath:      lookPathIn("iptables", "ip6tables"),
		KernelRelease: release("2.6.32"),
		Logger:        logging.Discard(),
	}).Probe(context.Background())
	require.NoError(t, err)

	assert.False(t, env.Tools.Have(LayerEbtables))
	assert.True(t, env.Tools.Have(LayerIptables))
	assert.False(t, env.Tools.Have(LayerIp6tables))
	assert.Equal(t, CtDirOld, env.CtDir)
}

func TestProbeIp6tablesOnly(t *testing.T) {
	env, err := NewProber(ProbeOptions{
		Runner:        newNetfilterSim(),
		LookPath:      lookPathIn("ip6tables"),
		KernelRelease: release("6.8.0-45-generic"),
		Logger:        logging.Discard(),
	}).Probe(context.Background())
	require.NoError(t, err)

	assert.False(t, env.Tools.Have(LayerIptables))
	assert.True(t, env.Tools.Have(LayerIp6tables))
	assert.Equal(t, StateMatchConntrack, env.StateMatch)
	assert.Equal(t, CtDirCorrected, env.CtDir)
}

func TestProbeWithoutTools(t *testing.T) {
	_, err := NewProber(ProbeOptions{
		Runner:   newNetfilterSim(),
		LookPath: lookPathIn(),
		Logger:   logging.Discard(),
	}).Probe(context.Background())
	assert.True(t, errors.HasKind(err, errors.KindToolUnavailable))
}

func TestProbePassthrough(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Run", "firewall-cmd", "--state").Return("running", 0, nil).Once()
	runner.On("Run", "firewall-cmd", "--direct", "--passthrough", "eb", "-t", "nat", "-L").Return("", 0, nil)
	runner.On("Run", "firewall-cmd", "--direct", "--passthrough", "ipv4", "-n", "-L", "FORWARD").Return("", 0, nil)
	runner.On("Run", "firewall-cmd", "--direct", "--passthrough", "ipv6", "-n", "-L", "FORWARD").Return("", 0, nil)
	runner.On("Run", "firewall-cmd", "--direct", "--passthrough", "ipv4", "--version").Return("iptables v1.4.7", 0, nil)

	env, err := NewProber(ProbeOptions{
		Runner:        runner,
		Watcher:       fakeWatcher{running: true},
		UseFirewalld:  true,
		LookPath:      lookPathIn("firewall-cmd"),
		KernelRelease: release("5.14.0"),
		Logger:        logging.Discard(),
	}).Probe(context.Background())
	require.NoError(t, err)

	assert.True(t, env.Passthrough)
	assert.Equal(t, []string{"firewall-cmd", "--direct", "--passthrough", "eb"}, env.Tools.Argv(LayerEbtables))
	assert.Equal(t, StateMatchLegacy, env.StateMatch)
	runner.AssertExpectations(t)
}

func TestProbeFallsBackWhenDaemonDoesNotAnswer(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Run", "firewall-cmd", "--state").Return("not running", 252, nil).Times(2)
	runner.On("Run", "iptables", "-n", "-L", "FORWARD").Return("", 0, nil)
	runner.On("Run", "iptables", "--version").Return("iptables v1.8.10 (legacy)", 0, nil)

	env, err := NewProber(ProbeOptions{
		Runner:        runner,
		Watcher:       fakeWatcher{running: true},
		UseFirewalld:  true,
		LookPath:      lookPathIn("firewall-cmd", "iptables"),
		KernelRelease: release("6.1"),
		Retry:         RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond},
		Logger:        logging.Discard(),
	}).Probe(context.Background())
	require.NoError(t, err)

	assert.False(t, env.Passthrough)
	assert.Equal(t, []string{"iptables"}, env.Tools.Argv(LayerIptables))
	assert.Equal(t, StateMatchConntrack, env.StateMatch)
	runner.AssertExpectations(t)
}

func TestCtDirForRelease(t *testing.T) {
	tests := []struct {
		release string
		want    CtDir
	}{
		{"2.6.38", CtDirOld},
		{"2.6.39", CtDirCorrected},
		{"3.10.0-1160.el7.x86_64", CtDirCorrected},
		{"6.8.0-45-generic", CtDirCorrected},
		{"garbage", CtDirUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ctDirForRelease(tt.release), tt.release)
	}
}

func TestStateMatchForVersion(t *testing.T) {
	tests := []struct {
		out  string
		want StateMatch
	}{
		{"iptables v1.4.7", StateMatchLegacy},
		{"iptables v1.4.16", StateMatchConntrack},
		{"iptables v1.4.21", StateMatchConntrack},
		{"iptables v1.8.7 (nf_tables)", StateMatchConntrack},
		{"something else", StateMatchLegacy},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stateMatchForVersion(tt.out), tt.out)
	}
}
