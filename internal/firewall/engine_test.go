package firewall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/filter"
)

var executors = []string{ExecutorScript, ExecutorDirect}

func eachExecutor(t *testing.T, fn func(t *testing.T, executor string)) {
	for _, ex := range executors {
		t.Run(ex, func(t *testing.T) { fn(t, ex) })
	}
}

func tcpPort(dir filter.Direction, port string, action filter.Action) *filter.Instance {
	return &filter.Instance{Rule: &filter.Rule{
		Protocol:  filter.ProtoTCP,
		Direction: dir,
		Action:    action,
		Priority:  500,
		Ports:     filter.PortMatch{DstStart: filter.MustLit(filter.TypeUint16, port)},
	}}
}

func ebRule(proto filter.Protocol, suffix string, chainPrio, prio int, action filter.Action) *filter.Instance {
	return &filter.Instance{
		Rule:          &filter.Rule{Protocol: proto, Direction: filter.DirOut, Action: action, Priority: prio},
		ChainSuffix:   suffix,
		ChainPriority: chainPrio,
	}
}

// residue lists every chain or rule still mentioning ifname.
func residue(sim *netfilterSim, ifname string) []string {
	var out []string
	for tool, chains := range sim.snapshot() {
		for name, rules := range chains {
			if strings.Contains(name, ifname) {
				out = append(out, tool+": chain "+name)
			}
			for _, r := range rules {
				if strings.Contains(r, ifname) {
					out = append(out, tool+": "+name+" "+r)
				}
			}
		}
	}
	return out
}

func TestApplyPolicyTCPScenario(t *testing.T) {
	eachExecutor(t, func(t *testing.T, executor string) {
		sim := newNetfilterSim()
		d := simDriver(t, sim, executor, nil)

		require.NoError(t, d.ApplyPolicy("vnet0", []*filter.Instance{
			tcpPort(filter.DirOut, "80", filter.ActionAccept),
		}))

		ipt := sim.snapshot()["iptables"]
		assert.Equal(t, []string{"-p tcp --dport 80 -m conntrack --ctstate NEW,ESTABLISHED -m conntrack --ctdir Original -j RETURN"}, ipt["FI-vnet0"])
		assert.Equal(t, []string{"-p tcp --sport 80 -m conntrack --ctstate ESTABLISHED -m conntrack --ctdir Reply -j ACCEPT"}, ipt["FO-vnet0"])
		assert.Equal(t, []string{"-p tcp --dport 80 -m conntrack --ctstate NEW,ESTABLISHED -m conntrack --ctdir Original -j RETURN"}, ipt["HI-vnet0"])
		assert.Equal(t, []string{"-m physdev --physdev-in vnet0 -g FI-vnet0"}, ipt[virtInChain])
		assert.Equal(t, []string{"-m physdev --physdev-is-bridged --physdev-out vnet0 -g FO-vnet0"}, ipt[virtOutChain])
		assert.Equal(t, []string{"-m physdev --physdev-in vnet0 -j ACCEPT"}, ipt[virtInPostChain])
		assert.Equal(t, []string{"-j " + virtInChain, "-j " + virtOutChain, "-j " + virtInPostChain}, ipt["FORWARD"])
		assert.Equal(t, []string{"-j " + hostInChain}, ipt["INPUT"])
		assert.Empty(t, sim.chainsMentioning("J-vnet0"))
		assert.Empty(t, sim.chainsMentioning("P-vnet0"))

		require.NoError(t, d.TearDownAll("vnet0"))
		assert.Empty(t, residue(sim, "vnet0"))
	})
}

func TestApplyPolicyIsIdempotent(t *testing.T) {
	eachExecutor(t, func(t *testing.T, executor string) {
		sim := newNetfilterSim()
		d := simDriver(t, sim, executor, nil)
		policy := []*filter.Instance{
			ebRule(filter.ProtoIP, "ipv4", -700, 0, filter.ActionAccept),
			tcpPort(filter.DirInOut, "22", filter.ActionAccept),
		}

		require.NoError(t, d.ApplyPolicy("vnet0", policy))
		first := sim.snapshot()
		require.NoError(t, d.ApplyPolicy("vnet0", policy))
		assert.Equal(t, first, sim.snapshot())
	})
}

func TestApplyNewRulesKeepsActiveGenerationUntilPromotion(t *testing.T) {
	oldPolicy := []*filter.Instance{
		ebRule(filter.ProtoARP, "arp", -500, 0, filter.ActionAccept),
		tcpPort(filter.DirOut, "80", filter.ActionAccept),
	}
	newPolicy := []*filter.Instance{
		ebRule(filter.ProtoARP, "arp", -500, 0, filter.ActionDrop),
		ebRule(filter.ProtoIP, "ipv4", -700, 0, filter.ActionAccept),
		tcpPort(filter.DirOut, "443", filter.ActionAccept),
	}

	eachExecutor(t, func(t *testing.T, executor string) {
		reference := newNetfilterSim()
		require.NoError(t, simDriver(t, reference, executor, nil).ApplyPolicy("vnet0", newPolicy))
		want := reference.effective("vnet0")

		sim := newNetfilterSim()
		require.NoError(t, simDriver(t, sim, executor, nil).ApplyPolicy("vnet0", oldPolicy))
		before := sim.effective("vnet0")
		require.NotEmpty(t, before)

		var phases []Phase
		promoted := false
		d := simDriver(t, sim, executor, func(ifname string, p Phase) {
			phases = append(phases, p)
			if !promoted {
				assert.Equal(t, before, sim.effective(ifname), "traffic decided by the new generation during %s", p)
			}
		})

		require.NoError(t, d.ApplyNewRules("vnet0", newPolicy))
		assert.Equal(t, []Phase{PhaseBuildingTemp, PhasePopulating, PhaseLinking, PhaseIdle}, phases)
		assert.Equal(t, before, sim.effective("vnet0"))

		promoted = true
		require.NoError(t, d.TearDownOldGeneration("vnet0"))
		assert.Equal(t, want, sim.effective("vnet0"))
		assert.Empty(t, sim.chainsMentioning("J-vnet0"))
	})
}

func TestApplyNewRulesRollsBack(t *testing.T) {
	tests := []struct {
		name   string
		phase  Phase
		failOn func(tool string, args []string) bool
	}{
		{
			name:  "populating",
			phase: PhasePopulating,
			failOn: func(tool string, args []string) bool {
				return tool == "iptables" && args[0] == "-A" && strings.HasPrefix(args[1], "FJ-")
			},
		},
		{
			name:  "linking",
			phase: PhaseLinking,
			failOn: func(tool string, args []string) bool {
				return tool == "ebtables" && strings.Join(args, " ") == "-t nat -A POSTROUTING -o vnet0 -j libvirt-P-vnet0"
			},
		},
	}
	policy := []*filter.Instance{
		ebRule(filter.ProtoIP, "ipv4", -700, 0, filter.ActionAccept),
		{Rule: &filter.Rule{Protocol: filter.ProtoMAC, Direction: filter.DirIn, Action: filter.ActionDrop}},
		tcpPort(filter.DirOut, "80", filter.ActionAccept),
	}

	for _, tt := range tests {
		eachExecutor(t, func(t *testing.T, executor string) {
			t.Run(tt.name, func(t *testing.T) {
				sim := newNetfilterSim()
				require.NoError(t, simDriver(t, sim, executor, nil).ApplyPolicy("vnet0", []*filter.Instance{
					tcpPort(filter.DirOut, "22", filter.ActionAccept),
					ebRule(filter.ProtoARP, "arp", -500, 0, filter.ActionAccept),
				}))
				before := sim.snapshot()

				var phases []Phase
				d := simDriver(t, sim, executor, func(_ string, p Phase) { phases = append(phases, p) })
				sim.failOn = tt.failOn

				err := d.ApplyNewRules("vnet0", policy)
				require.Error(t, err)
				assert.True(t, errors.HasKind(err, errors.KindExecution))
				assert.Contains(t, err.Error(), "some rules could not be created for interface vnet0")
				assert.Contains(t, phases, tt.phase)
				assert.Equal(t, PhaseRollingBack, phases[len(phases)-2])
				assert.Equal(t, PhaseIdle, phases[len(phases)-1])

				sim.failOn = nil
				assert.Equal(t, before, sim.snapshot())
			})
		})
	}
}

func TestApplyNewRulesCompilesBeforeTouchingTables(t *testing.T) {
	sim := newNetfilterSim()
	d := simDriver(t, sim, ExecutorScript, nil)

	bad := tcpPort(filter.DirOut, "80", filter.ActionContinue)
	err := d.ApplyNewRules("vnet0", []*filter.Instance{bad})
	require.Error(t, err)
	assert.True(t, errors.HasKind(err, errors.KindCompile))
	assert.Empty(t, sim.log)
}

func TestSubChainPriorityOrdering(t *testing.T) {
	eachExecutor(t, func(t *testing.T, executor string) {
		sim := newNetfilterSim()
		d := simDriver(t, sim, executor, nil)

		spoof := &filter.Instance{Rule: &filter.Rule{
			Protocol:  filter.ProtoMAC,
			Direction: filter.DirOut,
			Action:    filter.ActionDrop,
			Priority:  -800,
			Eth:       filter.EthMatch{SrcMAC: filter.MustLit(filter.TypeMACAddr, "52:54:00:00:00:01").Not()},
		}}
		ipv6 := &filter.Instance{Rule: &filter.Rule{
			Protocol:  filter.ProtoMAC,
			Direction: filter.DirOut,
			Action:    filter.ActionDrop,
			Priority:  500,
			EtherType: filter.MustLit(filter.TypeUint16Hex, "0x86dd"),
		}}

		require.NoError(t, d.ApplyPolicy("vnet0", []*filter.Instance{
			ipv6,
			ebRule(filter.ProtoARP, "arp", -500, -900, filter.ActionAccept),
			spoof,
			ebRule(filter.ProtoIP, "ipv4", -700, 0, filter.ActionAccept),
		}))

		eb := sim.snapshot()["ebtables"]
		assert.Equal(t, []string{
			"-s ! 52:54:00:00:00:01 -j DROP",
			"-p 0x0800 -j I-vnet0-ipv4",
			"-p 0x0806 -j I-vnet0-arp",
			"-p 0x86dd -j DROP",
		}, eb["libvirt-I-vnet0"])
		assert.Equal(t, []string{"-p 0x806 -j ACCEPT"}, eb["I-vnet0-arp"])
		assert.Equal(t, []string{"-p ipv4 -j ACCEPT"}, eb["I-vnet0-ipv4"])
		assert.Equal(t, []string{"-i vnet0 -j libvirt-I-vnet0"}, eb["PREROUTING"])
		_, hasOut := eb["libvirt-O-vnet0"]
		assert.False(t, hasOut, "no rule needs the outgoing root")
	})
}

func TestTearDownNewGeneration(t *testing.T) {
	sim := newNetfilterSim()
	d := simDriver(t, sim, ExecutorScript, nil)
	policy := []*filter.Instance{
		ebRule(filter.ProtoIP, "ipv4", -700, 0, filter.ActionAccept),
		tcpPort(filter.DirOut, "80", filter.ActionAccept),
	}
	require.NoError(t, d.ApplyPolicy("vnet0", policy))
	before := sim.snapshot()

	require.NoError(t, d.ApplyNewRules("vnet0", policy))
	require.NotEmpty(t, sim.chainsMentioning("J-vnet0"))
	require.NoError(t, d.TearDownNewGeneration("vnet0"))
	assert.Equal(t, before, sim.snapshot())
}

func TestTearDownAllRemovesBothGenerations(t *testing.T) {
	sim := newNetfilterSim()
	d := simDriver(t, sim, ExecutorDirect, nil)
	policy := []*filter.Instance{
		ebRule(filter.ProtoIP, "ipv4", -700, 0, filter.ActionAccept),
		tcpPort(filter.DirInOut, "80", filter.ActionAccept),
	}
	require.NoError(t, d.ApplyPolicy("vnet0", policy))
	require.NoError(t, d.ApplyNewRules("vnet0", policy))

	require.NoError(t, d.TearDownAll("vnet0"))
	assert.Empty(t, residue(sim, "vnet0"))
}

func TestInterfacesDoNotInterfere(t *testing.T) {
	sim := newNetfilterSim()
	d := simDriver(t, sim, ExecutorScript, nil)
	require.NoError(t, d.ApplyPolicy("vnet0", []*filter.Instance{tcpPort(filter.DirOut, "80", filter.ActionAccept)}))
	require.NoError(t, d.ApplyPolicy("vnet1", []*filter.Instance{tcpPort(filter.DirOut, "443", filter.ActionAccept)}))
	vnet1 := sim.effective("vnet1")

	require.NoError(t, d.TearDownAll("vnet0"))
	assert.Empty(t, residue(sim, "vnet0"))
	assert.Equal(t, vnet1, sim.effective("vnet1"))

	ipt := sim.snapshot()["iptables"]
	assert.Equal(t, []string{"-j " + virtInChain, "-j " + virtOutChain, "-j " + virtInPostChain}, ipt["FORWARD"])
}
