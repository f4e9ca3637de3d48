package tunnel

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/zerodha/logf"

	"github.com/peridio/wgfleet/internal/driver"
	"github.com/peridio/wgfleet/internal/metrics"
)

// ErrNotRunning is returned by Close/Extend/GetState once the actor has
// already exited.
var ErrNotRunning = errors.New("tunnel: not running")

const (
	livenessGrace    = 10 * time.Minute
	livenessInterval = 60 * time.Second
	checkInterval    = 1 * time.Second
	interfaceTimeout = 10 * time.Second
)

type commandKind int

const (
	cmdClose commandKind = iota
	cmdExtend
	cmdGetState
)

type command struct {
	kind      commandKind
	reason    string
	expiresAt time.Time
	reply     chan State
}

// Handle is the registry-facing interface to a live tunnel actor: a
// serialized mailbox plus a done signal observed once the actor exits.
type Handle struct {
	id   string
	iface Interface
	cmds chan command
	done chan struct{}
}

// ID returns the tunnel's application identifier.
func (h *Handle) ID() string { return h.id }

// Interface returns the tunnel's interface descriptor as passed to Open.
func (h *Handle) Interface() Interface { return h.iface }

// Close stops the actor with the given exit reason ("normal" if empty).
// It returns once the stop signal is accepted, not once teardown
// completes.
func (h *Handle) Close(reason string) error {
	if reason == "" {
		reason = ExitNormal
	}
	select {
	case h.cmds <- command{kind: cmdClose, reason: reason}:
		return nil
	case <-h.done:
		return ErrNotRunning
	}
}

// Extend reschedules the TTL timer to fire at newExpiresAt.
func (h *Handle) Extend(newExpiresAt time.Time) error {
	select {
	case h.cmds <- command{kind: cmdExtend, expiresAt: newExpiresAt}:
		return nil
	case <-h.done:
		return ErrNotRunning
	}
}

// GetState returns a synchronous snapshot of the actor's current state.
func (h *Handle) GetState() (State, error) {
	reply := make(chan State, 1)
	select {
	case h.cmds <- command{kind: cmdGetState, reply: reply}:
	case <-h.done:
		return State{}, ErrNotRunning
	}
	select {
	case s := <-reply:
		return s, nil
	case <-h.done:
		return State{}, ErrNotRunning
	}
}

// Done returns a channel closed when the actor has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

type actor struct {
	drv        driver.Driver
	driverOpts driver.Options
	logger     logf.Logger

	ifaceName   string
	needBringUp bool

	state      State
	opts       Options
	exitReason string

	cmds chan command
	done chan struct{}
}

// Open performs the tunnel's entry sequence: it synchronously locates or
// writes the .conf file (so a non-nil error here means nothing was ever
// started and no OnExit fires), then spawns the actor goroutine to bring
// the interface up asynchronously and run the steady-state loop.
//
// A driver error during the synchronous configure step is returned
// directly. A driver error during the asynchronous bring-up step instead
// lets Open return Ok; the spawned actor exits promptly with
// ExitDeviceErrorUp, which reaches opts.OnExit if set.
func Open(id string, iface Interface, peer Peer, opts Options, drv driver.Driver, logger logf.Logger) (*Handle, error) {
	if opts.DataDir == "" {
		opts.DataDir = os.TempDir()
	}
	driverOpts := driver.Options{DataDir: opts.DataDir}

	confs, err := drv.ListInterfaces(driverOpts)
	if err != nil {
		return nil, fmt.Errorf("tunnel: scan existing interfaces: %w", err)
	}

	existingName, _, found := findExisting(confs, id)

	a := &actor{
		drv:        drv,
		driverOpts: driverOpts,
		logger:     logger,
		opts:       opts,
		cmds:       make(chan command),
		done:       make(chan struct{}),
		state: State{
			ID:         id,
			Interface:  iface,
			Peer:       peer,
			ExpiresAt:  opts.ExpiresAt,
			Status:     StatusStart,
			ExitReason: ExitNormal,
		},
	}

	if !found {
		a.ifaceName = iface.ID
		cfg := buildConfig(id, iface, peer, opts)
		if err := drv.ConfigureWireGuard(a.ifaceName, cfg, driverOpts); err != nil {
			metrics.DriverErrors.Inc()
			return nil, fmt.Errorf("tunnel: configure_wireguard: %w", err)
		}
		a.needBringUp = true
	} else {
		a.ifaceName = existingName
		exists, err := drv.InterfaceExists(existingName)
		if err != nil {
			return nil, fmt.Errorf("tunnel: interface_exists: %w", err)
		}
		if exists {
			a.state.Status = StatusUp
		} else {
			a.needBringUp = true
		}
	}

	h := &Handle{id: id, iface: iface, cmds: a.cmds, done: a.done}
	metrics.TunnelsOpened.Inc()
	metrics.TunnelsActive.Inc()
	go a.run()
	return h, nil
}

func (a *actor) run() {
	defer close(a.done)
	defer a.terminate()

	if a.needBringUp {
		if err := a.drv.BringUpInterface(a.ifaceName, a.driverOpts); err != nil {
			metrics.DriverErrors.Inc()
			a.exitReason = ExitDeviceErrorUp
			return
		}
	}

	ttl := time.NewTimer(time.Until(a.state.ExpiresAt))
	defer ttl.Stop()
	liveness := time.NewTimer(livenessGrace)
	defer liveness.Stop()

	var checkC, timeoutC <-chan time.Time
	var checkTimer, timeoutTimer *time.Timer
	if a.needBringUp {
		checkTimer = time.NewTimer(checkInterval)
		timeoutTimer = time.NewTimer(interfaceTimeout)
		checkC = checkTimer.C
		timeoutC = timeoutTimer.C
		defer checkTimer.Stop()
		defer timeoutTimer.Stop()
	}

	for {
		select {
		case cmd := <-a.cmds:
			switch cmd.kind {
			case cmdClose:
				a.exitReason = cmd.reason
				return
			case cmdExtend:
				if !ttl.Stop() {
					select {
					case <-ttl.C:
					default:
					}
				}
				a.state.ExpiresAt = cmd.expiresAt
				ttl.Reset(time.Until(cmd.expiresAt))
			case cmdGetState:
				cmd.reply <- a.state
			}

		case <-ttl.C:
			a.exitReason = ExitTTLTimeout
			return

		case <-liveness.C:
			if a.checkLiveness() && a.opts.StaleAction == StaleActionClose {
				a.exitReason = ExitStale
				return
			}
			liveness.Reset(livenessInterval)

		case <-checkC:
			exists, err := a.drv.InterfaceExists(a.ifaceName)
			if err == nil && exists {
				a.state.Status = StatusUp
				timeoutTimer.Stop()
				checkC, timeoutC = nil, nil
			} else {
				checkTimer.Reset(checkInterval)
			}

		case <-timeoutC:
			a.exitReason = ExitInterfaceTimeout
			return
		}
	}
}

// checkLiveness applies the stale policy from §4.6's steady state and
// reports whether the tunnel was judged stale. By default the caller
// only logs on stale and keeps polling (§9); Options.StaleAction lets a
// caller opt into stopping the actor instead.
func (a *actor) checkLiveness() bool {
	rx, err := a.drv.RxPacketStats(a.ifaceName)
	if err != nil {
		return false
	}
	tx, err := a.drv.TxPacketStats(a.ifaceName)
	if err != nil {
		return false
	}
	lastHandshake, err := a.drv.WGLatestHandshakes(a.ifaceName)
	if err != nil {
		return false
	}
	stale := isStale(rx, tx, lastHandshake, time.Now())
	if stale {
		a.logger.Info("tunnel stale", "id", a.state.ID, "interface", a.ifaceName,
			"rx", rx, "tx", tx, "last_handshake", lastHandshake)
	}
	return stale
}

func isStale(rx, tx uint64, lastHandshake int64, now time.Time) bool {
	if rx == 0 && tx == 0 && lastHandshake == 0 {
		return false
	}
	if rx == 0 && lastHandshake == 0 {
		return true
	}
	if lastHandshake != 0 && now.Sub(time.Unix(lastHandshake, 0)) <= 5*time.Minute {
		return false
	}
	return true
}

// terminate runs unconditionally on exit: teardown ignoring its exit
// code, then a best-effort detached OnExit callback.
func (a *actor) terminate() {
	_ = a.drv.TeardownInterface(a.ifaceName, a.driverOpts)

	metrics.TunnelsActive.Dec()
	metrics.ClosedCounter(a.exitReason).Inc()

	if a.opts.OnExit != nil {
		reason := a.exitReason
		cb := a.opts.OnExit
		go func() {
			defer func() { recover() }()
			cb(reason)
		}()
	}
}
