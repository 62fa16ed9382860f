package cmd

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/tui"
)

// RunWatch shows the live chains of the given interfaces until the user quits.
func RunWatch(configFile string, ifnames []string, interval time.Duration) error {
	if len(ifnames) == 0 {
		return errors.New(errors.KindValidation, "at least one interface name is required")
	}
	for _, ifname := range ifnames {
		if err := requireInterface(ifname); err != nil {
			return err
		}
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	s, err := openSession(configFile)
	if err != nil {
		return err
	}
	d, err := s.driver()
	if err != nil {
		return err
	}
	stop := s.serveMetrics()
	defer stop()

	_, err = tea.NewProgram(tui.NewModel(d, ifnames, interval), tea.WithAltScreen()).Run()
	return err
}
