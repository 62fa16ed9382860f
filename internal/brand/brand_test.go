package brand

import (
	"path/filepath"
	"testing"
)

func TestGet(t *testing.T) {
	b := Get()
	if b.Name == "" {
		t.Error("Brand name should not be empty")
	}
	if Version == "" {
		t.Error("Global Version should be initialized (to dev default)")
	}
	if ChainNamespace != "libvirt" {
		t.Errorf("ChainNamespace = %q, want libvirt", ChainNamespace)
	}
}

func TestGetDirectories(t *testing.T) {
	t.Setenv(ConfigEnvPrefix+"_PREFIX", "")
	t.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "")
	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "")

	if GetConfigDir() != DefaultConfigDir {
		t.Errorf("Expected default config dir %s, got %s", DefaultConfigDir, GetConfigDir())
	}
	if GetStateDir() != DefaultStateDir {
		t.Errorf("Expected default state dir %s, got %s", DefaultStateDir, GetStateDir())
	}

	t.Setenv(ConfigEnvPrefix+"_PREFIX", "/opt/bw")
	if got := GetConfigDir(); got != "/opt/bw/config" {
		t.Errorf("Expected prefixed config dir, got %s", got)
	}
	if got := DefaultConfigPath(); got != filepath.Join("/opt/bw/config", ConfigFileName) {
		t.Errorf("unexpected config path %s", got)
	}

	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "/tmp/state")
	if got := GetStateDir(); got != "/tmp/state" {
		t.Errorf("Expected explicit state dir, got %s", got)
	}
}
