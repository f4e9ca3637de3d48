// Package tunnel implements the per-tunnel state machine: the actor that
// configures a WireGuard interface, brings it up, polls its liveness, and
// tears it down on TTL expiry, an explicit close, or a driver error.
package tunnel

import (
	"time"

	"github.com/peridio/wgfleet/internal/ipcidr"
	"github.com/peridio/wgfleet/internal/quickconfig"
)

// Interface is the local-side configuration of a tunnel: identity plus the
// address/port/keys wg-quick needs to bring it up.
type Interface struct {
	ID         string
	IPAddress  ipcidr.IP
	Port       int
	PrivateKey string
	PublicKey  string
	// Table is wg-quick's Table setting ("auto" or "off"); empty means
	// the default ("auto") and is omitted from the written .conf.
	Table string
}

// Peer is the remote-side configuration of a tunnel's single peer.
type Peer struct {
	IPAddress           ipcidr.IP
	Endpoint            string
	Port                int
	PublicKey           string
	PersistentKeepalive int
}

// Status values for State.Status.
const (
	StatusStart = "start"
	StatusUp    = "up"
)

// Exit reasons passed to Options.OnExit. A live tunnel's State.ExitReason
// is ExitNormal; the reason an actor stops with reaches the caller through
// OnExit, not through a State snapshot.
const (
	ExitNormal               = "normal"
	ExitShuttingDown         = "shutting_down"
	ExitTTLTimeout           = "ttl_timeout"
	ExitInterfaceTimeout     = "interface_timeout"
	ExitDeviceErrorConfigure = "device_error_interface_configure"
	ExitDeviceErrorUp        = "device_error_interface_up"
)

// StaleAction controls what check_status does once it judges a tunnel
// stale (see §4.6's steady-state policy).
type StaleAction int

const (
	// StaleActionLogOnly logs and keeps polling — the source's documented
	// development-time behavior (§9).
	StaleActionLogOnly StaleAction = iota
	// StaleActionClose stops the actor with ExitReason "stale".
	StaleActionClose
)

// ExitStale is the exit reason recorded when StaleActionClose stops an
// actor judged stale by check_status.
const ExitStale = "stale"

// Options configures a tunnel's data directory, .conf extras, lease, and
// exit notification.
type Options struct {
	// DataDir is where the .conf file is written; default is the system
	// temp dir when empty.
	DataDir string
	// Hooks are written as additional [Interface] keys (PreUp, PostUp,
	// PreDown, PostDown).
	Hooks []quickconfig.KV
	// Extra carries additional non-canonical sections beyond [Peridio].
	Extra []quickconfig.ExtraSection
	// ExpiresAt is the tunnel's lease expiry; the TTL timer fires then.
	ExpiresAt time.Time
	// StaleAction picks what happens once check_status judges the
	// tunnel stale. Defaults to StaleActionLogOnly.
	StaleAction StaleAction
	// OnExit, if set, is invoked with the exit reason once the terminate
	// step's teardown has run. Failures in OnExit are not surfaced.
	OnExit func(exitReason string)
}

// State is a snapshot of a live tunnel, returned by GetState and used by
// the registry for list()/get_by_interface_id().
type State struct {
	ID         string
	Interface  Interface
	Peer       Peer
	ExpiresAt  time.Time
	Status     string
	ExitReason string
}
