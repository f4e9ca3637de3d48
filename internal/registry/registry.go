// Package registry is the tunnel supervisor: it owns the process-wide
// id->handle map, serializes open() so at most one actor exists per id,
// and drives the resource scanner/allocator to pick each new tunnel's
// interface id, address, and port before spawning its actor.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zerodha/logf"

	"github.com/peridio/wgfleet/internal/allocator"
	"github.com/peridio/wgfleet/internal/driver"
	"github.com/peridio/wgfleet/internal/ipcidr"
	"github.com/peridio/wgfleet/internal/scanner"
	"github.com/peridio/wgfleet/internal/tunnel"
)

// ErrAlreadyRunning is returned by Open when id already names a live
// tunnel (spec §4.6/§4.7, §8 scenario 2).
var ErrAlreadyRunning = errors.New("registry: already running")

// ErrNotRunning is returned by Close/Extend/GetState for an unknown id.
var ErrNotRunning = errors.New("registry: not running")

// Config holds the registry's resource pools and tunnel defaults.
type Config struct {
	// Pool is the private address space tunnels are allocated from.
	Pool []ipcidr.CIDR
	// PortLow/PortHigh bound the dynamic UDP port pool.
	PortLow, PortHigh int
	// DataDir is the default .conf directory when an Open caller's
	// Options.DataDir is empty.
	DataDir string
	// DefaultTTL is used when an Open caller's Options.ExpiresAt is zero.
	DefaultTTL time.Duration
	// ReservedPortsPolicy controls what happens when the port scanner
	// itself fails (see internal/allocator).
	ReservedPortsPolicy allocator.ReservedPortsPolicy
}

// Registry is the process-wide tunnel supervisor.
type Registry struct {
	cfg    Config
	drv    driver.Driver
	logger logf.Logger

	mu        sync.Mutex
	tunnels   map[string]*tunnel.Handle // nil entry = open in flight
	byIface   map[string]string         // interface.id -> id
	liveIPs   map[ipcidr.IP]bool
	livePorts map[int]bool

	wg sync.WaitGroup
}

// New constructs a Registry. drv is the driver every spawned actor uses.
func New(cfg Config, drv driver.Driver, logger logf.Logger) *Registry {
	return &Registry{
		cfg:       cfg,
		drv:       drv,
		logger:    logger,
		tunnels:   make(map[string]*tunnel.Handle),
		byIface:   make(map[string]string),
		liveIPs:   make(map[ipcidr.IP]bool),
		livePorts: make(map[int]bool),
	}
}

// Open allocates an interface id, address, port and key pair, then spawns
// a tunnel actor for id. Concurrent Open calls for the same id serialize
// on the registry mutex; exactly one proceeds and the rest see
// ErrAlreadyRunning.
func (r *Registry) Open(id string, peer tunnel.Peer, opts tunnel.Options) (*tunnel.Handle, error) {
	r.mu.Lock()
	if _, exists := r.tunnels[id]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	r.tunnels[id] = nil // reserve the slot while we allocate + spawn
	r.mu.Unlock()

	h, ifaceID, ip, port, err := r.allocateAndOpen(id, peer, opts)

	r.mu.Lock()
	if err != nil {
		delete(r.tunnels, id)
		r.mu.Unlock()
		return nil, err
	}
	r.tunnels[id] = h
	r.byIface[ifaceID] = id
	r.liveIPs[ip] = true
	r.livePorts[port] = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.watch(id, ifaceID, ip, port, h)

	return h, nil
}

func (r *Registry) allocateAndOpen(id string, peer tunnel.Peer, opts tunnel.Options) (h *tunnel.Handle, ifaceID string, ip ipcidr.IP, port int, err error) {
	r.mu.Lock()
	takenIPs := make(map[ipcidr.IP]bool, len(r.liveIPs))
	liveIPs := make([]ipcidr.IP, 0, len(r.liveIPs))
	for addr := range r.liveIPs {
		takenIPs[addr] = true
		liveIPs = append(liveIPs, addr)
	}
	takenPorts := make(map[int]bool, len(r.livePorts))
	for p := range r.livePorts {
		takenPorts[p] = true
	}
	r.mu.Unlock()

	reservedCIDRs, scanErr := scanner.ReservedCIDRs(liveIPs)
	if scanErr != nil {
		return nil, "", 0, 0, fmt.Errorf("registry: scan reserved addresses: %w", scanErr)
	}
	free := allocator.AvailableCIDRs(r.cfg.Pool, reservedCIDRs)
	ip, err = allocator.PickAddress(free, takenIPs)
	if err != nil {
		return nil, "", 0, 0, err
	}

	reservedPorts, scanErr := scanner.ReservedPorts(r.cfg.PortLow, r.cfg.PortHigh)
	if scanErr != nil {
		if r.cfg.ReservedPortsPolicy == allocator.OnScanErrorPropagate {
			return nil, "", 0, 0, fmt.Errorf("registry: scan reserved ports: %w", scanErr)
		}
		reservedPorts = nil
	}
	freePorts := allocator.AvailablePorts(r.cfg.PortLow, r.cfg.PortHigh, reservedPorts)
	port, err = allocator.PickPort(freePorts, takenPorts)
	if err != nil {
		return nil, "", 0, 0, err
	}

	ifaceID, err = generateInterfaceID()
	if err != nil {
		return nil, "", 0, 0, err
	}

	privateKey, publicKey, err := r.drv.GenerateKeyPair()
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("registry: generate_key_pair: %w", err)
	}

	iface := tunnel.Interface{
		ID:         ifaceID,
		IPAddress:  ip,
		Port:       port,
		PrivateKey: privateKey,
		PublicKey:  publicKey,
	}

	if opts.DataDir == "" {
		opts.DataDir = r.cfg.DataDir
	}
	if opts.ExpiresAt.IsZero() {
		opts.ExpiresAt = time.Now().Add(r.cfg.DefaultTTL)
	}

	h, err = tunnel.Open(id, iface, peer, opts, r.drv, r.logger)
	if err != nil {
		return nil, "", 0, 0, err
	}
	return h, ifaceID, ip, port, nil
}

// watch releases id's reserved address/port and removes it from the
// lookup indexes once its actor exits, normally or otherwise.
func (r *Registry) watch(id, ifaceID string, ip ipcidr.IP, port int, h *tunnel.Handle) {
	defer r.wg.Done()
	<-h.Done()

	r.mu.Lock()
	delete(r.tunnels, id)
	delete(r.byIface, ifaceID)
	delete(r.liveIPs, ip)
	delete(r.livePorts, port)
	r.mu.Unlock()

	r.logger.Info("tunnel closed", "id", id, "interface", ifaceID)
}

// Close stops the named tunnel's actor. It returns once the stop signal
// is accepted, not once teardown has completed.
func (r *Registry) Close(id, reason string) error {
	h, ok := r.lookup(id)
	if !ok {
		return ErrNotRunning
	}
	if err := h.Close(reason); err != nil {
		return ErrNotRunning
	}
	return nil
}

// Extend reschedules id's TTL timer to fire at newExpiresAt.
func (r *Registry) Extend(id string, newExpiresAt time.Time) error {
	h, ok := r.lookup(id)
	if !ok {
		return ErrNotRunning
	}
	if err := h.Extend(newExpiresAt); err != nil {
		return ErrNotRunning
	}
	return nil
}

// GetState returns a snapshot of id's current state.
func (r *Registry) GetState(id string) (tunnel.State, error) {
	h, ok := r.lookup(id)
	if !ok {
		return tunnel.State{}, ErrNotRunning
	}
	st, err := h.GetState()
	if err != nil {
		return tunnel.State{}, ErrNotRunning
	}
	return st, nil
}

// GetByInterfaceID looks up the live tunnel whose interface id is
// ifaceID.
func (r *Registry) GetByInterfaceID(ifaceID string) (id string, st tunnel.State, ok bool) {
	r.mu.Lock()
	id, found := r.byIface[ifaceID]
	var h *tunnel.Handle
	if found {
		h = r.tunnels[id]
	}
	r.mu.Unlock()
	if !found || h == nil {
		return "", tunnel.State{}, false
	}
	st, err := h.GetState()
	if err != nil {
		return "", tunnel.State{}, false
	}
	return id, st, true
}

// Stats is a point-in-time snapshot of pool utilization and live tunnel
// count, for operator introspection alongside the metrics gauges.
type Stats struct {
	LiveTunnels            int
	AvailableAddresses     uint64
	AvailablePortSubranges int
}

// Stats scans current reservations the same way Open's allocation path
// does and reports what is left, plus how many tunnels are live.
func (r *Registry) Stats() (Stats, error) {
	r.mu.Lock()
	liveTunnels := 0
	for _, h := range r.tunnels {
		if h != nil {
			liveTunnels++
		}
	}
	liveIPs := make([]ipcidr.IP, 0, len(r.liveIPs))
	for addr := range r.liveIPs {
		liveIPs = append(liveIPs, addr)
	}
	r.mu.Unlock()

	reservedCIDRs, err := scanner.ReservedCIDRs(liveIPs)
	if err != nil {
		return Stats{}, fmt.Errorf("registry: scan reserved addresses: %w", err)
	}
	free := allocator.AvailableCIDRs(r.cfg.Pool, reservedCIDRs)
	var availableAddresses uint64
	for _, c := range free {
		availableAddresses += c.Addresses()
	}

	reservedPorts, err := scanner.ReservedPorts(r.cfg.PortLow, r.cfg.PortHigh)
	if err != nil {
		if r.cfg.ReservedPortsPolicy == allocator.OnScanErrorPropagate {
			return Stats{}, fmt.Errorf("registry: scan reserved ports: %w", err)
		}
		reservedPorts = nil
	}
	freePorts := allocator.AvailablePorts(r.cfg.PortLow, r.cfg.PortHigh, reservedPorts)

	return Stats{
		LiveTunnels:            liveTunnels,
		AvailableAddresses:     availableAddresses,
		AvailablePortSubranges: len(freePorts),
	}, nil
}

// List returns a snapshot of every currently live tunnel.
func (r *Registry) List() []tunnel.State {
	r.mu.Lock()
	handles := make([]*tunnel.Handle, 0, len(r.tunnels))
	for _, h := range r.tunnels {
		if h != nil {
			handles = append(handles, h)
		}
	}
	r.mu.Unlock()

	states := make([]tunnel.State, 0, len(handles))
	for _, h := range handles {
		if st, err := h.GetState(); err == nil {
			states = append(states, st)
		}
	}
	return states
}

func (r *Registry) lookup(id string) (*tunnel.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.tunnels[id]
	return h, ok && h != nil
}

// Shutdown closes every live tunnel and waits (bounded by ctx) for their
// actors to exit. Tunnels are not restarted on crash (§4.7), so a
// Shutdown is the only orderly way to drain the registry.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	handles := make([]*tunnel.Handle, 0, len(r.tunnels))
	for _, h := range r.tunnels {
		if h != nil {
			handles = append(handles, h)
		}
	}
	r.mu.Unlock()

	for _, h := range handles {
		_ = h.Close(tunnel.ExitShuttingDown)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
