// Package config loads wgfleetd's configuration from a TOML file
// overlaid with environment variables and a --config flag, the same
// koanf-based layering the rest of the corpus uses.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	flag "github.com/spf13/pflag"
)

// Config is wgfleetd's parsed configuration.
type Config struct {
	App struct {
		LogLevel string `toml:"log_level"`
	} `toml:"app"`

	Pool struct {
		// CIDRs is the private address space tunnels are allocated from.
		CIDRs []string `toml:"cidrs"`
		// PortRangeLow/PortRangeHigh bound the dynamic UDP port pool.
		PortRangeLow  int `toml:"port_range_low"`
		PortRangeHigh int `toml:"port_range_high"`
	} `toml:"pool"`

	Tunnel struct {
		DataDir         string        `toml:"data_dir"`
		DefaultTTL      time.Duration `toml:"default_ttl"`
		CleanupInterval time.Duration `toml:"cleanup_interval"`
	} `toml:"tunnel"`

	Driver struct {
		// Mode is "real" or "mock".
		Mode string `toml:"mode"`
	} `toml:"driver"`

	Metrics struct {
		ListenAddr string `toml:"listen_addr"`
	} `toml:"metrics"`
}

// DefaultCIDRs is the private IPv4 pool from spec §6's defaults.
var DefaultCIDRs = []string{"172.16.0.0/12", "192.168.0.0/16", "10.0.0.0/8"}

const (
	// DefaultPortRangeLow/High is the dynamic port pool from RFC 6335.
	DefaultPortRangeLow  = 49152
	DefaultPortRangeHigh = 65535
)

// Load parses flags, loads cfgPath (if present) as TOML, then overlays
// environment variables prefixed with envPrefix (double underscore as
// the nesting separator, e.g. WGFLEETD_TUNNEL__DATA_DIR).
func Load(cfgDefault, envPrefix string) (*Config, error) {
	ko := koanf.New(".")
	f := flag.NewFlagSet("wgfleetd", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}
	cfgPath := f.String("config", cfgDefault, "Path to a config file to load.")
	if err := f.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	if err := ko.Load(file.Provider(*cfgPath), toml.Parser()); err != nil {
		if *cfgPath != cfgDefault {
			return nil, fmt.Errorf("config: load %s: %w", *cfgPath, err)
		}
	}

	if envPrefix != "" {
		err := ko.Load(env.Provider(envPrefix, ".", func(s string) string {
			return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
		}), nil)
		if err != nil {
			return nil, fmt.Errorf("config: load env: %w", err)
		}
	}

	cfg := &Config{}
	cfg.App.LogLevel = ko.String("app.log_level")
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}

	cfg.Pool.CIDRs = ko.Strings("pool.cidrs")
	if len(cfg.Pool.CIDRs) == 0 {
		cfg.Pool.CIDRs = DefaultCIDRs
	}
	cfg.Pool.PortRangeLow = ko.Int("pool.port_range_low")
	if cfg.Pool.PortRangeLow == 0 {
		cfg.Pool.PortRangeLow = DefaultPortRangeLow
	}
	cfg.Pool.PortRangeHigh = ko.Int("pool.port_range_high")
	if cfg.Pool.PortRangeHigh == 0 {
		cfg.Pool.PortRangeHigh = DefaultPortRangeHigh
	}

	cfg.Tunnel.DataDir = ko.String("tunnel.data_dir")
	if cfg.Tunnel.DataDir == "" {
		cfg.Tunnel.DataDir = os.TempDir()
	}
	cfg.Tunnel.DefaultTTL = ko.Duration("tunnel.default_ttl")
	if cfg.Tunnel.DefaultTTL == 0 {
		cfg.Tunnel.DefaultTTL = time.Hour
	}
	cfg.Tunnel.CleanupInterval = ko.Duration("tunnel.cleanup_interval")
	if cfg.Tunnel.CleanupInterval == 0 {
		cfg.Tunnel.CleanupInterval = time.Minute
	}

	cfg.Driver.Mode = ko.String("driver.mode")
	if cfg.Driver.Mode == "" {
		cfg.Driver.Mode = "real"
	}
	if cfg.Driver.Mode != "real" && cfg.Driver.Mode != "mock" {
		return nil, fmt.Errorf("config: driver.mode must be \"real\" or \"mock\", got %q", cfg.Driver.Mode)
	}

	cfg.Metrics.ListenAddr = ko.String("metrics.listen_addr")
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}

	return cfg, nil
}
