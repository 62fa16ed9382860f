package config

import (
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"grimm.is/bridgewall/internal/brand"
	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/firewall"
	"grimm.is/bridgewall/internal/logging"
)

// CurrentSchemaVersion is the configuration schema this build writes and reads.
const CurrentSchemaVersion = "1.0"

// Passthrough daemon modes.
const (
	FirewalldAuto = "auto"
	FirewalldOff  = "off"
)

// Config is the driver configuration file.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional"`

	// Firewalld is "auto" or "off".
	Firewalld string `hcl:"firewalld,optional"`
	Executor  string `hcl:"executor,optional"`
	Discovery string `hcl:"discovery,optional"`
	Shell     string `hcl:"shell,optional"`

	Tools   *ToolsConfig   `hcl:"tools,block"`
	Log     *LogConfig     `hcl:"log,block"`
	Metrics *MetricsConfig `hcl:"metrics,block"`
}

// ToolsConfig overrides the backend binaries. Empty entries are looked up in PATH.
type ToolsConfig struct {
	Ebtables    string `hcl:"ebtables,optional"`
	Iptables    string `hcl:"iptables,optional"`
	Ip6tables   string `hcl:"ip6tables,optional"`
	FirewallCmd string `hcl:"firewall_cmd,optional"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level string `hcl:"level,optional"`
	JSON  bool   `hcl:"json,optional"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `hcl:"listen,optional"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		Firewalld:     FirewalldAuto,
		Executor:      firewall.ExecutorAuto,
		Discovery:     firewall.DiscoveryCLI,
		Shell:         firewall.DefaultShell,
	}
}

// DefaultPath is the configuration file location honoring the brand overrides.
func DefaultPath() string {
	return brand.DefaultConfigPath()
}

// LoadFile reads a configuration file. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to read config file %s", path)
	}
	return LoadHCL(data, path)
}

// LoadHCL decodes and validates configuration source.
func LoadHCL(data []byte, filename string) (*Config, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errors.Errorf(errors.KindValidation, "HCL parse error: %s", diags.Error())
	}

	cfg := Default()
	if diags := gohcl.DecodeBody(file.Body, nil, cfg); diags.HasErrors() {
		return nil, errors.Errorf(errors.KindValidation, "HCL decode error: %s", diags.Error())
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Attr(err, "file", filename)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.SchemaVersion == "" {
		c.SchemaVersion = d.SchemaVersion
	}
	if c.Firewalld == "" {
		c.Firewalld = d.Firewalld
	}
	if c.Executor == "" {
		c.Executor = d.Executor
	}
	if c.Discovery == "" {
		c.Discovery = d.Discovery
	}
	if c.Shell == "" {
		c.Shell = d.Shell
	}
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	if major, _, _ := strings.Cut(c.SchemaVersion, "."); major != "1" {
		return errors.Errorf(errors.KindValidation, "unsupported config schema version %s", c.SchemaVersion)
	}
	check := func(field, value string, allowed ...string) error {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return errors.Errorf(errors.KindValidation, "%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
	}
	if err := check("firewalld", c.Firewalld, FirewalldAuto, FirewalldOff); err != nil {
		return err
	}
	if err := check("executor", c.Executor, firewall.ExecutorAuto, firewall.ExecutorScript, firewall.ExecutorDirect); err != nil {
		return err
	}
	if err := check("discovery", c.Discovery, firewall.DiscoveryCLI, firewall.DiscoveryNetlink); err != nil {
		return err
	}
	if c.Log != nil {
		if _, err := logging.ParseLevel(c.Log.Level); err != nil {
			return errors.Wrap(err, errors.KindValidation, "log level")
		}
	}
	return nil
}

// Logger builds the logger the configuration asks for.
func (c *Config) Logger() *logging.Logger {
	cfg := logging.DefaultConfig()
	if c.Log != nil {
		if lvl, err := logging.ParseLevel(c.Log.Level); err == nil {
			cfg.Level = lvl
		}
		cfg.JSON = c.Log.JSON
	}
	return logging.New(cfg)
}

// DriverOptions maps the configuration onto firewall driver options.
func (c *Config) DriverOptions() firewall.Options {
	opts := firewall.Options{
		UseFirewalld: c.Firewalld != FirewalldOff,
		Executor:     c.Executor,
		Discovery:    c.Discovery,
		Shell:        c.Shell,
	}
	if t := c.Tools; t != nil {
		opts.Ebtables = t.Ebtables
		opts.Iptables = t.Iptables
		opts.Ip6tables = t.Ip6tables
		opts.FirewallCmd = t.FirewallCmd
	}
	return opts
}
