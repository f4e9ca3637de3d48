// Package metrics exposes the fleet's runtime counters and gauges in
// Prometheus exposition format via github.com/VictoriaMetrics/metrics.
package metrics

import (
	"net/http"

	"github.com/VictoriaMetrics/metrics"
)

var (
	// Tunnel lifecycle
	TunnelsActive             = metrics.NewGauge(`wgfleet_tunnels_active`, nil)
	TunnelsOpened             = metrics.NewCounter(`wgfleet_tunnels_opened_total`)
	TunnelsClosedNormal       = metrics.NewCounter(`wgfleet_tunnels_closed_total{reason="normal"}`)
	TunnelsClosedShuttingDown = metrics.NewCounter(`wgfleet_tunnels_closed_total{reason="shutting_down"}`)
	TunnelsClosedTTL          = metrics.NewCounter(`wgfleet_tunnels_closed_total{reason="ttl_timeout"}`)
	TunnelsClosedInterfaceErr = metrics.NewCounter(`wgfleet_tunnels_closed_total{reason="interface_timeout"}`)
	TunnelsClosedStale        = metrics.NewCounter(`wgfleet_tunnels_closed_total{reason="stale"}`)
	TunnelsClosedDeviceErr    = metrics.NewCounter(`wgfleet_tunnels_closed_total{reason="device_error"}`)

	// Allocator pools
	IPPoolAvailable        = metrics.NewGauge(`wgfleet_ip_pool_available`, nil)
	IPPoolExhausted        = metrics.NewCounter(`wgfleet_ip_pool_exhausted_total`)
	PortSubrangesAvailable = metrics.NewGauge(`wgfleet_port_subranges_available`, nil)
	PortPoolExhausted      = metrics.NewCounter(`wgfleet_port_pool_exhausted_total`)

	// Driver
	DriverErrors = metrics.NewCounter(`wgfleet_driver_errors_total`)
)

// Handler returns the handler to mount for Prometheus scraping.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	}
}

// ClosedCounter returns the counter matching a lifecycle exit reason,
// falling back to the generic device-error counter for any driver-error
// string the tunnel state machine produces (see spec §7's exit-reason
// taxonomy: "normal", "shutting_down", "ttl_timeout", "interface_timeout",
// "stale", or a "device_error_*" string).
func ClosedCounter(reason string) *metrics.Counter {
	switch reason {
	case "normal":
		return TunnelsClosedNormal
	case "shutting_down":
		return TunnelsClosedShuttingDown
	case "ttl_timeout":
		return TunnelsClosedTTL
	case "interface_timeout":
		return TunnelsClosedInterfaceErr
	case "stale":
		return TunnelsClosedStale
	default:
		return TunnelsClosedDeviceErr
	}
}
