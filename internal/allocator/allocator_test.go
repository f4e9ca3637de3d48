package allocator

import (
	"reflect"
	"testing"

	"github.com/peridio/wgfleet/internal/ipcidr"
)

func mustCIDR(t *testing.T, s string) ipcidr.CIDR {
	t.Helper()
	c, err := ipcidr.FromString(s)
	if err != nil {
		t.Fatalf("FromString(%q): %v", s, err)
	}
	return c
}

func TestAvailableCIDRsNoReservations(t *testing.T) {
	pool := []ipcidr.CIDR{mustCIDR(t, "10.0.0.0/24")}
	free := AvailableCIDRs(pool, nil)
	if !reflect.DeepEqual(free, pool) {
		t.Errorf("AvailableCIDRs(no reservations) = %v, want %v", free, pool)
	}
}

func TestAvailableCIDRsCarvesOutReservation(t *testing.T) {
	pool := []ipcidr.CIDR{mustCIDR(t, "10.0.0.0/24")}
	reserved := []ipcidr.CIDR{mustCIDR(t, "10.0.0.5/32")}
	free := AvailableCIDRs(pool, reserved)

	var total uint64
	for _, b := range free {
		total += b.Addresses()
		if ipcidr.Contains(b, reserved[0]) {
			t.Errorf("free block %s still overlaps reservation", b)
		}
	}
	if want := pool[0].Addresses() - reserved[0].Addresses(); total != want {
		t.Errorf("free addresses = %d, want %d", total, want)
	}
}

func TestAvailableCIDRsIgnoresReservationOutsidePool(t *testing.T) {
	pool := []ipcidr.CIDR{mustCIDR(t, "10.0.0.0/24")}
	reserved := []ipcidr.CIDR{mustCIDR(t, "192.168.0.1/32")}
	free := AvailableCIDRs(pool, reserved)
	if !reflect.DeepEqual(free, pool) {
		t.Errorf("AvailableCIDRs should ignore out-of-pool reservation, got %v", free)
	}
}

func TestAvailablePorts(t *testing.T) {
	free := AvailablePorts(49152, 49160, []int{49155})
	want := [][2]uint32{{49152, 49154}, {49156, 49160}}
	if !reflect.DeepEqual(free, want) {
		t.Errorf("AvailablePorts = %v, want %v", free, want)
	}
}

func TestPickAddressExcludesNetworkAndBroadcast(t *testing.T) {
	free := []ipcidr.CIDR{mustCIDR(t, "10.0.0.0/30")} // addresses .0,.1,.2,.3
	taken := map[ipcidr.IP]bool{}
	seen := map[ipcidr.IP]bool{}
	for i := 0; i < 200; i++ {
		ip, err := PickAddress(free, taken)
		if err != nil {
			t.Fatalf("PickAddress: %v", err)
		}
		if ip.String() == "10.0.0.0" || ip.String() == "10.0.0.3" {
			t.Fatalf("PickAddress returned network/broadcast address %s", ip)
		}
		seen[ip] = true
	}
	if len(seen) != 2 {
		t.Errorf("expected both usable addresses to appear across picks, saw %v", seen)
	}
}

func TestPickAddressNoUsableAddressExhausts(t *testing.T) {
	free := []ipcidr.CIDR{mustCIDR(t, "10.0.0.0/32")} // single address, no usable interior
	if _, err := PickAddress(free, nil); err != ErrNoFreeAddress {
		t.Errorf("PickAddress(/32 block) = %v, want ErrNoFreeAddress", err)
	}
}

func TestPickAddressRetriesAgainstTaken(t *testing.T) {
	free := []ipcidr.CIDR{mustCIDR(t, "10.0.0.0/30")}
	ip1, _ := ipcidr.ParseIP("10.0.0.1")
	ip2, _ := ipcidr.ParseIP("10.0.0.2")
	taken := map[ipcidr.IP]bool{ip1: true}
	for i := 0; i < 50; i++ {
		got, err := PickAddress(free, taken)
		if err != nil {
			t.Fatalf("PickAddress: %v", err)
		}
		if got != ip2 {
			t.Fatalf("PickAddress returned taken address %s", got)
		}
	}
}

func TestPickPortRetriesAgainstTaken(t *testing.T) {
	free := [][2]uint32{{49152, 49153}}
	taken := map[int]bool{49152: true}
	for i := 0; i < 50; i++ {
		port, err := PickPort(free, taken)
		if err != nil {
			t.Fatalf("PickPort: %v", err)
		}
		if port != 49153 {
			t.Fatalf("PickPort returned taken port %d", port)
		}
	}
}

func TestPickPortNoFreeRanges(t *testing.T) {
	if _, err := PickPort(nil, nil); err != ErrNoFreePort {
		t.Errorf("PickPort(nil) = %v, want ErrNoFreePort", err)
	}
}
