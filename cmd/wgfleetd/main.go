// Command wgfleetd runs the tunnel supervisor as a host process. It
// carries no RPC or HTTP surface driving open/close/extend (§1
// Non-goal); it is the thin host an external control plane would sit in
// front of, wiring config, logging, the driver, and the registry
// together and shutting them down cleanly on signal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zerodha/logf"

	"github.com/peridio/wgfleet/internal/config"
	"github.com/peridio/wgfleet/internal/driver"
	"github.com/peridio/wgfleet/internal/ipcidr"
	"github.com/peridio/wgfleet/internal/metrics"
	"github.com/peridio/wgfleet/internal/registry"
)

// buildString is injected at build time.
var buildString = "unknown"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load("wgfleetd.sample.toml", "WGFLEETD_")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.App.LogLevel)
	logger.Info("starting wgfleetd", "version", buildString, "driver", cfg.Driver.Mode)

	pool, err := parsePool(cfg.Pool.CIDRs)
	if err != nil {
		logger.Error("invalid pool configuration", "error", err)
		os.Exit(1)
	}

	var drv driver.Driver
	if cfg.Driver.Mode == "mock" {
		drv = driver.NewMock()
	} else {
		drv = driver.NewReal()
	}

	reg := registry.New(registry.Config{
		Pool:       pool,
		PortLow:    cfg.Pool.PortRangeLow,
		PortHigh:   cfg.Pool.PortRangeHigh,
		DataDir:    cfg.Tunnel.DataDir,
		DefaultTTL: cfg.Tunnel.DefaultTTL,
	}, drv, logger)

	metricsSrv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := reg.Shutdown(shutdownCtx); err != nil {
		logger.Error("registry shutdown error", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

func initLogger(level string) logf.Logger {
	opts := logf.Opts{EnableCaller: true}
	switch strings.ToLower(level) {
	case "debug":
		opts.Level = logf.DebugLevel
	case "warn", "warning":
		opts.Level = logf.WarnLevel
	case "error":
		opts.Level = logf.ErrorLevel
	default:
		opts.Level = logf.InfoLevel
	}
	return logf.New(opts)
}

func parsePool(cidrs []string) ([]ipcidr.CIDR, error) {
	pool := make([]ipcidr.CIDR, 0, len(cidrs))
	for _, s := range cidrs {
		c, err := ipcidr.FromString(s)
		if err != nil {
			return nil, fmt.Errorf("pool cidr %q: %w", s, err)
		}
		pool = append(pool, c)
	}
	return pool, nil
}
