package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zerodha/logf"

	"github.com/peridio/wgfleet/internal/allocator"
	"github.com/peridio/wgfleet/internal/driver"
	"github.com/peridio/wgfleet/internal/ipcidr"
	"github.com/peridio/wgfleet/internal/tunnel"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	pool, err := ipcidr.FromString("10.200.0.0/16")
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	cfg := Config{
		Pool:       []ipcidr.CIDR{pool},
		PortLow:    40000,
		PortHigh:   40100,
		DataDir:    t.TempDir(),
		DefaultTTL: time.Hour,
	}
	return New(cfg, driver.NewMock(), logf.New(logf.Opts{}))
}

func samplePeer() tunnel.Peer {
	peerIP, _ := ipcidr.ParseIP("203.0.113.5")
	return tunnel.Peer{IPAddress: peerIP, Endpoint: "203.0.113.1", Port: 51820, PublicKey: "peerpub"}
}

func TestOpenCloseListRoundTrip(t *testing.T) {
	r := testRegistry(t)

	h, err := r.Open("tunnel-1", samplePeer(), tunnel.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	states := r.List()
	if len(states) != 1 || states[0].ID != "tunnel-1" {
		t.Fatalf("List = %v, want one entry for tunnel-1", states)
	}

	ifaceID := h.Interface().ID
	gotID, _, ok := r.GetByInterfaceID(ifaceID)
	if !ok || gotID != "tunnel-1" {
		t.Errorf("GetByInterfaceID(%q) = (%q, %v), want (tunnel-1, true)", ifaceID, gotID, ok)
	}

	if err := r.Close("tunnel-1", ""); err != nil {
		t.Fatalf("Close: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		if len(r.List()) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("tunnel still listed after close")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if _, _, ok := r.GetByInterfaceID(ifaceID); ok {
		t.Error("GetByInterfaceID should miss after close")
	}
}

// TestDuplicateOpen covers §8 scenario 2: exactly one of two concurrent
// opens for the same id succeeds.
func TestDuplicateOpen(t *testing.T) {
	r := testRegistry(t)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, err := r.Open("dup", samplePeer(), tunnel.Options{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var oks, conflicts int
	for err := range results {
		switch err {
		case nil:
			oks++
		case ErrAlreadyRunning:
			conflicts++
		default:
			t.Fatalf("unexpected Open error: %v", err)
		}
	}
	if oks != 1 || conflicts != 1 {
		t.Errorf("got %d ok, %d already_running, want 1 and 1", oks, conflicts)
	}
}

func TestCloseUnknownIDReturnsNotRunning(t *testing.T) {
	r := testRegistry(t)
	if err := r.Close("nope", ""); err != ErrNotRunning {
		t.Errorf("Close(unknown) = %v, want ErrNotRunning", err)
	}
	if err := r.Extend("nope", time.Now()); err != ErrNotRunning {
		t.Errorf("Extend(unknown) = %v, want ErrNotRunning", err)
	}
}

func TestShutdownClosesAllTunnels(t *testing.T) {
	r := testRegistry(t)
	if _, err := r.Open("a", samplePeer(), tunnel.Options{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.Open("b", samplePeer(), tunnel.Options{}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := r.List(); len(got) != 0 {
		t.Errorf("List after Shutdown = %v, want empty", got)
	}
}

func TestReservedPortsPolicyDefaultIsAssumeEmpty(t *testing.T) {
	if allocator.OnScanErrorAssumeEmpty != 0 {
		t.Fatalf("OnScanErrorAssumeEmpty must be the zero value so Config{} defaults to it, got %d", allocator.OnScanErrorAssumeEmpty)
	}
}

func TestShutdownUsesShuttingDownExitReason(t *testing.T) {
	r := testRegistry(t)

	reasons := make(chan string, 1)
	opts := tunnel.Options{OnExit: func(reason string) { reasons <- reason }}
	if _, err := r.Open("a", samplePeer(), opts); err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case got := <-reasons:
		if got != tunnel.ExitShuttingDown {
			t.Errorf("exit reason = %q, want %q", got, tunnel.ExitShuttingDown)
		}
	case <-time.After(time.Second):
		t.Fatal("OnExit never called")
	}
}

func TestStatsReflectsLiveTunnels(t *testing.T) {
	r := testRegistry(t)

	stats, err := r.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.LiveTunnels != 0 {
		t.Errorf("LiveTunnels = %d, want 0", stats.LiveTunnels)
	}
	if stats.AvailableAddresses == 0 {
		t.Error("AvailableAddresses = 0, want > 0 for a fresh /16 pool")
	}
	if stats.AvailablePortSubranges == 0 {
		t.Error("AvailablePortSubranges = 0, want > 0 for a fresh port range")
	}

	if _, err := r.Open("a", samplePeer(), tunnel.Options{}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	stats, err = r.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.LiveTunnels != 1 {
		t.Errorf("LiveTunnels = %d, want 1", stats.LiveTunnels)
	}
}
