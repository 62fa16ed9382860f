package cmd

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"grimm.is/bridgewall/internal/firewall"
	"grimm.is/bridgewall/internal/network"
	"grimm.is/bridgewall/internal/tui"
)

// probeReport is everything the probe command shows.
type probeReport struct {
	env *firewall.Environment
	// bridgeNF holds the iptables and ip6tables hook state; nil when the sysctl is absent.
	bridgeNF [2]*bool
	ifname   string
	link     *network.LinkState
	linkErr  error
}

func (r probeReport) render() string {
	var rows []string
	rows = append(rows, tui.StyleHeader.Render("Tools"))
	for _, layer := range []firewall.Layer{firewall.LayerEbtables, firewall.LayerIptables, firewall.LayerIp6tables} {
		argv := r.env.Tools.Argv(layer)
		value := tui.Status(false, "unavailable")
		if len(argv) > 0 {
			value = tui.Status(true, strings.Join(argv, " "))
		}
		rows = append(rows, tui.Row(layer.String(), value))
	}
	passthrough := "no"
	if r.env.Passthrough {
		passthrough = "firewalld"
	}
	rows = append(rows, tui.Row("passthrough", passthrough))

	rows = append(rows, "", tui.StyleHeader.Render("Syntax"))
	rows = append(rows, tui.Row("state", r.env.StateMatch.String()))
	rows = append(rows, tui.Row("ctdir", r.env.CtDir.String()))

	rows = append(rows, "", tui.StyleHeader.Render("Bridge netfilter"))
	for i, name := range []string{"iptables", "ip6tables"} {
		var value string
		switch on := r.bridgeNF[i]; {
		case on == nil:
			value = tui.StyleStatusWarn.Render("br_netfilter not loaded")
		case *on:
			value = tui.Status(true, "enabled")
		default:
			value = tui.Status(false, "disabled")
		}
		rows = append(rows, tui.Row(name, value))
	}

	if r.ifname != "" {
		rows = append(rows, "", tui.StyleHeader.Render("Interface "+r.ifname))
		switch {
		case r.linkErr != nil:
			rows = append(rows, tui.Row("state", tui.Status(false, r.linkErr.Error())))
		case !r.link.Exists:
			rows = append(rows, tui.Row("state", tui.Status(false, "missing")))
		default:
			rows = append(rows, tui.Row("up", tui.Status(r.link.Up, yesNo(r.link.Up))))
			bridge := tui.Status(false, "not a bridge port")
			if r.link.Bridge != "" {
				bridge = tui.Status(true, r.link.Bridge)
			}
			rows = append(rows, tui.Row("bridge", bridge))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...) + "\n"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// RunProbe reports what the driver detected on this host.
func RunProbe(w io.Writer, configFile, ifname string) error {
	s, err := openSession(configFile)
	if err != nil {
		return err
	}
	d, err := s.driver()
	if err != nil {
		return err
	}

	r := probeReport{env: d.Environment(), ifname: ifname}
	for i, v6 := range []bool{false, true} {
		if on, known := network.BridgeNFCallEnabled(network.DefaultSystemController, v6); known {
			r.bridgeNF[i] = &on
		}
	}
	if ifname != "" {
		state, err := network.NewLinkInspector().Inspect(ifname)
		r.link, r.linkErr = &state, err
	}
	_, err = io.WriteString(w, r.render())
	return err
}
