// Package driver abstracts the OS-level tools used to stand up and tear
// down a WireGuard tunnel: ip, wg, wg-quick, and /sys/class/net (the ss
// socket scan lives in internal/scanner, not behind this seam). Two
// implementations exist: Real shells out to the actual binaries; Mock is
// the deterministic fake used by tests and by anything exercising the
// tunnel/registry layer without a real kernel WireGuard module available.
package driver

import (
	"errors"
	"fmt"

	"github.com/peridio/wgfleet/internal/quickconfig"
)

// Options carries the per-call configuration a driver operation needs.
// It mirrors the opts record referenced throughout the configure/bring-up/
// teardown contract.
type Options struct {
	DataDir string
}

// ConfPath returns the .conf path a driver writes/reads for an interface.
func (o Options) ConfPath(name string) string {
	return o.DataDir + "/" + name + ".conf"
}

// CommandError wraps a non-zero exit from a shelled-out command, carrying
// the combined stdout/stderr the caller may want to log.
type CommandError struct {
	Op       string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("driver: %s: exit %d: %s", e.Op, e.ExitCode, e.Output)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ErrMockFailure is returned by the Mock's kernel/"wg" operations when
// invoked with the literal interface name "failure" (see Mock).
var ErrMockFailure = errors.New("driver: mock failure (interface name is \"failure\")")

// Driver is the seam between the tunnel/registry layer and the host. A
// Driver never retries; callers decide what a failed op means for the
// tunnel's lifecycle.
type Driver interface {
	// CreateInterface fabricates a WireGuard kernel interface named name.
	CreateInterface(name string) error

	// ConfigureWireGuard writes the wg-quick configuration for name to
	// opts.DataDir/<name>.conf.
	ConfigureWireGuard(name string, cfg quickconfig.Config, opts Options) error

	// BringUpInterface runs wg-quick up against the interface's .conf.
	BringUpInterface(name string, opts Options) error

	// TeardownInterface runs wg-quick down against the interface's .conf
	// and removes the .conf file regardless of the command's exit code.
	TeardownInterface(name string, opts Options) error

	// ListInterfaces parses every .conf file under opts.DataDir.
	ListInterfaces(opts Options) (map[string]quickconfig.Config, error)

	// GenerateKeyPair returns a fresh WireGuard private/public key pair,
	// base64-encoded.
	GenerateKeyPair() (privateKey, publicKey string, err error)

	// RxPacketStats and TxPacketStats report the interface's packet
	// counters.
	RxPacketStats(name string) (uint64, error)
	TxPacketStats(name string) (uint64, error)

	// WGLatestHandshakes returns the most recent handshake as unix
	// seconds, or 0 if the interface has never completed a handshake.
	WGLatestHandshakes(name string) (int64, error)

	// InterfaceExists reports whether the named OS interface is present.
	// The tunnel actor's interface-appearance poll (§4.6) uses this to
	// detect when wg-quick's asynchronous interface creation has landed;
	// it is not part of the driver operation table itself, but every
	// implementation needs an answer to it.
	InterfaceExists(name string) (bool, error)
}
