package config

import (
	"os"
	"testing"
)

func resetArgs(t *testing.T, args ...string) {
	t.Helper()
	orig := os.Args
	os.Args = append([]string{"wgfleetd"}, args...)
	t.Cleanup(func() { os.Args = orig })
}

func TestLoadAppliesDefaultsWithoutConfigFile(t *testing.T) {
	resetArgs(t)
	cfg, err := Load("/nonexistent/config.toml", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Pool.CIDRs) != len(DefaultCIDRs) {
		t.Errorf("Pool.CIDRs = %v, want defaults %v", cfg.Pool.CIDRs, DefaultCIDRs)
	}
	if cfg.Pool.PortRangeLow != DefaultPortRangeLow || cfg.Pool.PortRangeHigh != DefaultPortRangeHigh {
		t.Errorf("port range = [%d,%d], want [%d,%d]", cfg.Pool.PortRangeLow, cfg.Pool.PortRangeHigh, DefaultPortRangeLow, DefaultPortRangeHigh)
	}
	if cfg.Driver.Mode != "real" {
		t.Errorf("Driver.Mode = %q, want %q", cfg.Driver.Mode, "real")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.toml"
	content := "[driver]\nmode = \"mock\"\n\n[tunnel]\ndata_dir = \"" + dir + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	resetArgs(t)
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Driver.Mode != "mock" {
		t.Errorf("Driver.Mode = %q, want %q", cfg.Driver.Mode, "mock")
	}
	if cfg.Tunnel.DataDir != dir {
		t.Errorf("Tunnel.DataDir = %q, want %q", cfg.Tunnel.DataDir, dir)
	}
}

func TestLoadRejectsInvalidDriverMode(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.toml"
	if err := os.WriteFile(path, []byte("[driver]\nmode = \"bogus\"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	resetArgs(t)
	if _, err := Load(path, ""); err == nil {
		t.Error("Load with invalid driver.mode should error")
	}
}

func TestLoadEnvOverlay(t *testing.T) {
	resetArgs(t)
	t.Setenv("WGFLEETD_TEST_DRIVER__MODE", "mock")
	cfg, err := Load("/nonexistent/config.toml", "WGFLEETD_TEST_")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Driver.Mode != "mock" {
		t.Errorf("Driver.Mode = %q, want %q (from env)", cfg.Driver.Mode, "mock")
	}
}
