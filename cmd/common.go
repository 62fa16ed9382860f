// Package cmd implements the bridgewall subcommands.
package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/bridgewall/internal/config"
	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/filter"
	"grimm.is/bridgewall/internal/firewall"
	"grimm.is/bridgewall/internal/i18n"
	"grimm.is/bridgewall/internal/logging"
	"grimm.is/bridgewall/internal/network"
	"grimm.is/bridgewall/internal/validation"
)

// Printer formats user-facing output for the current locale.
var Printer = i18n.NewCLIPrinter()

// session is the configuration and logger shared by one command run.
type session struct {
	cfg    *config.Config
	logger *logging.Logger
}

func openSession(configFile string) (*session, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger()
	logging.SetDefault(logger)
	return &session{cfg: cfg, logger: logger}, nil
}

func (s *session) options() firewall.Options {
	opts := s.cfg.DriverOptions()
	opts.Logger = s.logger
	opts.Links = network.NewLinkInspector()
	return opts
}

func (s *session) driver() (*firewall.Driver, error) {
	return firewall.NewDriver(s.options())
}

// serveMetrics exposes the Prometheus registry when the configuration asks
// for it. The returned function shuts the listener down.
func (s *session) serveMetrics() func() {
	if s.cfg.Metrics == nil || s.cfg.Metrics.Listen == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              s.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics listener failed", "listen", srv.Addr, "error", err)
		}
	}()
	s.logger.Info("serving metrics", "listen", srv.Addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func loadRules(policyFile string) ([]*filter.Instance, error) {
	if policyFile == "" {
		return nil, errors.New(errors.KindValidation, "a policy file is required")
	}
	p, err := config.LoadPolicy(policyFile)
	if err != nil {
		return nil, err
	}
	return p.Instances()
}

func requireInterface(ifname string) error {
	if ifname == "" {
		return errors.New(errors.KindValidation, "an interface name is required")
	}
	return validation.ValidateInterfaceName(ifname)
}
