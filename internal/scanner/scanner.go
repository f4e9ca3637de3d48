// Package scanner discovers the host-level resources that are already
// spoken for: addresses bound to existing network interfaces (plus the
// single addresses of currently-live tunnels) and TCP/UDP ports already
// held by a socket, listening or not. The allocator treats both as reserved.
package scanner

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/peridio/wgfleet/internal/ipcidr"
)

// ReservedCIDRs enumerates the host's IPv4 network interfaces and returns
// the containing CIDR of each configured address, plus a /32 for every
// address in liveLocalIPs (the local addresses of currently-running
// tunnels, drawn from the registry, so a fresh allocation never collides
// with one already handed out).
func ReservedCIDRs(liveLocalIPs []ipcidr.IP) ([]ipcidr.CIDR, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("scanner: list interfaces: %w", err)
	}

	var out []ipcidr.CIDR
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			// An interface that disappeared mid-enumeration shouldn't
			// fail the whole scan.
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if c, ok := cidrFromIPNet(ipnet); ok {
				out = append(out, c)
			}
		}
	}

	for _, ip := range liveLocalIPs {
		out = append(out, ipcidr.CIDR{Start: ip, Length: 32})
	}
	return out, nil
}

// cidrFromIPNet computes the containing CIDR of an interface address:
// start = addr & mask, length = the mask's prefix length (32 when the
// mask is all-ones, i.e. a /32 address). Non-IPv4 addresses are rejected.
func cidrFromIPNet(ipnet *net.IPNet) (ipcidr.CIDR, bool) {
	v4 := ipnet.IP.To4()
	if v4 == nil {
		return ipcidr.CIDR{}, false
	}
	mask := ipnet.Mask
	if len(mask) == 16 {
		mask = mask[12:]
	}
	if len(mask) != 4 {
		return ipcidr.CIDR{}, false
	}
	ones, bits := mask.Size()
	if bits != 32 {
		return ipcidr.CIDR{}, false // non-contiguous mask
	}

	addrU32 := binary.BigEndian.Uint32(v4)
	maskU32 := binary.BigEndian.Uint32(mask)
	start := addrU32 & maskU32

	return ipcidr.CIDR{Start: ipcidr.FromUint32(start), Length: ones}, true
}

// ReservedPorts invokes ss, filtered to the TCP/UDP sockets (listening and
// non-listening, via -a) whose local port falls in [lo, hi], and returns the sorted list of
// those local ports. The filter is built from ss's own expression syntax
// as separate argv entries (no shell is involved), per the documented
// correction to the source's use of literal `>`/`<` redirection
// characters.
func ReservedPorts(lo, hi int) ([]int, error) {
	cmd := exec.Command("ss", "-tauH",
		"sport", ">=", fmt.Sprintf(":%d", lo),
		"and", "sport", "<=", fmt.Sprintf(":%d", hi),
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("scanner: reserved_ports: %w", err)
	}
	return parseSSOutput(out)
}

// parseSSOutput extracts the local port (column 5, the last
// colon-delimited token) from each line of `ss -tauH` output.
func parseSSOutput(output []byte) ([]int, error) {
	var ports []int
	sc := bufio.NewScanner(bytes.NewReader(output))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			return nil, fmt.Errorf("scanner: reserved_ports: unexpected ss line %q", line)
		}
		localAddr := fields[4]
		idx := strings.LastIndexByte(localAddr, ':')
		if idx < 0 {
			return nil, fmt.Errorf("scanner: reserved_ports: no port in local address %q", localAddr)
		}
		port, err := strconv.Atoi(localAddr[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("scanner: reserved_ports: parse port %q: %w", localAddr, err)
		}
		ports = append(ports, port)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanner: reserved_ports: %w", err)
	}
	sort.Ints(ports)
	return ports, nil
}
