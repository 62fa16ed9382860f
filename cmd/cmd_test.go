package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/firewall"
	"grimm.is/bridgewall/internal/network"
)

const webPolicy = `
rule {
  protocol  = "tcp"
  direction = "out"
  match = {
    dstportstart = 80
  }
}

rule {
  protocol = "ip"
  chain    = "ipv4"
  action   = "accept"
}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPlan(t *testing.T) {
	policy := writeFile(t, "web.hcl", webPolicy)

	plan, err := Plan("vnet0", policy)
	require.NoError(t, err)
	assert.Contains(t, plan, "iptables -N FJ-vnet0\n")
	assert.Contains(t, plan, "iptables -A FJ-vnet0 -p tcp --dport 80")
	assert.Contains(t, plan, "ebtables -t nat -N libvirt-J-vnet0\n")
	assert.Contains(t, plan, "ebtables -t nat -N J-vnet0-ipv4\n")
	assert.Contains(t, plan, "ebtables -t nat -E J-vnet0-ipv4 I-vnet0-ipv4\n")

	_, err = Plan("", policy)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestRunPlanAgainst(t *testing.T) {
	policy := writeFile(t, "web.hcl", webPolicy)

	var out bytes.Buffer
	require.NoError(t, RunPlan(&out, "vnet0", policy, ""))
	saved := writeFile(t, "saved.plan", out.String())

	out.Reset()
	require.NoError(t, RunPlan(&out, "vnet0", policy, saved))
	assert.Equal(t, "No changes detected.\n", out.String())

	out.Reset()
	err := RunPlan(&out, "vnet1", policy, saved)
	assert.ErrorIs(t, err, ErrPlanDiffers)
	assert.Contains(t, out.String(), "--- "+saved)
	assert.Contains(t, out.String(), "+++ planned")
	assert.Contains(t, out.String(), "+iptables -N FJ-vnet1")

	err = RunPlan(&out, "vnet0", policy, filepath.Join(t.TempDir(), "absent"))
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestSavePlan(t *testing.T) {
	t.Setenv("BRIDGEWALL_STATE_DIR", t.TempDir())
	policy := writeFile(t, "web.hcl", webPolicy)

	path, err := SavePlan("vnet0", policy)
	require.NoError(t, err)
	assert.Equal(t, SavedPlanPath("vnet0"), path)
	assert.FileExists(t, path)

	var out bytes.Buffer
	require.NoError(t, RunPlan(&out, "vnet0", policy, SavedPlanPath("vnet0")))
	assert.Equal(t, "No changes detected.\n", out.String())
}

func TestRunCheck(t *testing.T) {
	cfg := writeFile(t, "bridgewall.hcl", `executor = "direct"`)
	policy := writeFile(t, "web.hcl", webPolicy)

	var out bytes.Buffer
	require.NoError(t, RunCheck(&out, cfg, policy))
	assert.Contains(t, out.String(), "executor direct")
	assert.Contains(t, out.String(), "Policy valid: 2 rules, 0 variables")
	assert.Contains(t, out.String(), "ipv4")
	assert.Contains(t, out.String(), "(root)")

	bad := writeFile(t, "bad.hcl", "rule {\n  protocol = \"ipx\"\n}")
	assert.Error(t, RunCheck(&out, cfg, bad))
}

func TestProbeReportRender(t *testing.T) {
	on, off := true, false
	r := probeReport{
		env: &firewall.Environment{
			Tools:      firewall.Tools{Ebtables: []string{"/usr/sbin/ebtables"}},
			StateMatch: firewall.StateMatchConntrack,
			CtDir:      firewall.CtDirCorrected,
		},
		bridgeNF: [2]*bool{&on, &off},
		ifname:   "vnet0",
		link:     &network.LinkState{Exists: true, Up: true, Bridge: "virbr0"},
	}
	text := r.render()
	for _, want := range []string{"/usr/sbin/ebtables", "unavailable", "enabled", "disabled", "virbr0", "Interface vnet0"} {
		assert.Contains(t, text, want)
	}

	r.bridgeNF = [2]*bool{}
	r.link = &network.LinkState{}
	text = r.render()
	assert.Contains(t, text, "br_netfilter not loaded")
	assert.Contains(t, text, "missing")
}

func TestCommandsRequireInterface(t *testing.T) {
	assert.Error(t, RunApply("", "", "web.hcl", false))
	assert.Error(t, RunTeardown("", "", TeardownAll))
	assert.Error(t, RunBasic("", BasicRequest{Mode: BasicDropAll}))
	assert.Error(t, RunWatch("", nil, 0))
}

func TestRunBasicValidatesBeforeProbing(t *testing.T) {
	tests := []struct {
		name string
		req  BasicRequest
	}{
		{"unknown mode", BasicRequest{Mode: "allow-all", Ifname: "vnet0"}},
		{"bad interface", BasicRequest{Mode: BasicDropAll, Ifname: "vnet0;reboot"}},
		{"bad mac", BasicRequest{Mode: BasicAllow, Ifname: "vnet0", MAC: "nope"}},
		{"bad server", BasicRequest{Mode: BasicDHCPOnly, Ifname: "vnet0", MAC: "52:54:00:12:34:56", Servers: []string{"10.0.0"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RunBasic("", tt.req)
			assert.Equal(t, errors.KindValidation, errors.GetKind(err))
		})
	}
}
