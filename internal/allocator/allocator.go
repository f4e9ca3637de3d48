// Package allocator turns the scanner's reserved CIDRs/ports into free
// address space and picks one IP/port pair for a new tunnel, retrying on
// collision against the set of currently-live tunnels.
package allocator

import (
	"errors"
	"math/rand/v2"

	"github.com/peridio/wgfleet/internal/ipcidr"
	"github.com/peridio/wgfleet/internal/metrics"
)

// ErrNoFreeAddress and ErrNoFreePort are returned when the allocator
// exhausts its retry budget without finding an address/port that is both
// free of reservations and not already held by a live tunnel.
var (
	ErrNoFreeAddress = errors.New("allocator: no_free_address")
	ErrNoFreePort    = errors.New("allocator: no_free_port")
)

// maxPickAttempts bounds retries against live-tunnel collisions; the
// allocator already filters out host/tunnel reservations before picking,
// so a collision only happens against another tunnel racing the same
// pick, which is rare.
const maxPickAttempts = 64

// ReservedPortsPolicy controls allocator behavior when the port scanner's
// underlying `ss` invocation exits non-zero (§9's second open question).
type ReservedPortsPolicy int

const (
	// OnScanErrorAssumeEmpty proceeds as if no ports were reserved.
	OnScanErrorAssumeEmpty ReservedPortsPolicy = iota
	// OnScanErrorPropagate surfaces the scan error to the caller.
	OnScanErrorPropagate
)

// AvailableCIDRs returns the free address space in pool once every
// reservation contained in it has been carved out. A pool CIDR with no
// reservation inside it is free in its entirety.
func AvailableCIDRs(pool []ipcidr.CIDR, reserved []ipcidr.CIDR) []ipcidr.CIDR {
	var free []ipcidr.CIDR
	for _, p := range pool {
		var containing []ipcidr.CIDR
		for _, r := range reserved {
			if ipcidr.Contains(p, r) {
				containing = append(containing, r)
			}
		}
		if len(containing) == 0 {
			free = append(free, p)
			continue
		}
		remaining := []ipcidr.CIDR{p}
		for _, r := range containing {
			var next []ipcidr.CIDR
			for _, block := range remaining {
				next = append(next, ipcidr.LeftMinusRight(block, r)...)
			}
			remaining = next
		}
		free = append(free, remaining...)
	}
	metrics.IPPoolAvailable.Set(float64(countAddresses(free)))
	return free
}

// AvailablePorts partitions [lo, hi] into the maximal sub-ranges that
// remain after removing every reserved port.
func AvailablePorts(lo, hi int, reservedPorts []int) [][2]uint32 {
	removed := make([]uint32, len(reservedPorts))
	for i, p := range reservedPorts {
		removed[i] = uint32(p)
	}
	free := ipcidr.SplitRange(uint32(lo), uint32(hi), removed)
	metrics.PortSubrangesAvailable.Set(float64(len(free)))
	return free
}

// PickAddress uniformly picks a free CIDR block, then uniformly picks a
// usable address within it (excluding the block's first and last
// address, which double as its network/broadcast address), retrying
// against taken when a collision occurs.
func PickAddress(free []ipcidr.CIDR, taken map[ipcidr.IP]bool) (ipcidr.IP, error) {
	var candidates []ipcidr.CIDR
	for _, c := range free {
		if usableAddresses(c) > 0 {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return 0, ErrNoFreeAddress
	}

	for attempt := 0; attempt < maxPickAttempts; attempt++ {
		block := candidates[rand.IntN(len(candidates))]
		n := usableAddresses(block)
		offset := uint32(rand.Uint64N(n))
		ip := ipcidr.FromUint32(uint32(block.Start) + 1 + offset)
		if !taken[ip] {
			return ip, nil
		}
	}
	return 0, ErrNoFreeAddress
}

// usableAddresses is the number of addresses in c excluding its first
// and last (network/broadcast for anything but a /31 or /32, which have
// no usable interior addresses at all).
func usableAddresses(c ipcidr.CIDR) uint64 {
	n := c.Addresses()
	if n <= 2 {
		return 0
	}
	return n - 2
}

// PickPort uniformly picks a free sub-range, then uniformly picks a port
// within it, retrying against taken on collision.
func PickPort(free [][2]uint32, taken map[int]bool) (int, error) {
	if len(free) == 0 {
		return 0, ErrNoFreePort
	}
	for attempt := 0; attempt < maxPickAttempts; attempt++ {
		r := free[rand.IntN(len(free))]
		span := uint64(r[1]-r[0]) + 1
		port := int(r[0]) + int(rand.Uint64N(span))
		if !taken[port] {
			return port, nil
		}
	}
	return 0, ErrNoFreePort
}

func countAddresses(blocks []ipcidr.CIDR) uint64 {
	var total uint64
	for _, b := range blocks {
		total += b.Addresses()
	}
	return total
}
