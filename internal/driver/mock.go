package driver

import (
	"os"
	"sync"

	"github.com/peridio/wgfleet/internal/quickconfig"
)

const (
	mockRxPackets    uint64 = 27
	mockTxPackets    uint64 = 8
	mockHandshakeUTC int64  = 1656345389

	// failureName is the single sentinel interface name the mock treats
	// as a forced failure; every other name succeeds.
	failureName = "failure"
)

// Mock is the deterministic Driver used in tests: every kernel/"wg"
// operation (CreateInterface, BringUpInterface, TeardownInterface and the
// packet-stat and handshake reads) succeeds for any interface name except
// the literal "failure", which always fails with ErrMockFailure.
// ConfigureWireGuard writes the .conf for any name, including "failure",
// and InterfaceExists reports false without an error until a bring-up for
// that name has succeeded. Filesystem-backed operations
// (ConfigureWireGuard, TeardownInterface, ListInterfaces) still perform
// real I/O under opts.DataDir so the quickconfig round trip is exercised
// end to end; only the kernel/"wg" shell-outs are faked.
type Mock struct {
	mu      sync.Mutex
	calls   []string
	created map[string]bool
	up      map[string]bool
}

var _ Driver = (*Mock)(nil)

// NewMock constructs a Mock driver.
func NewMock() *Mock {
	return &Mock{created: make(map[string]bool), up: make(map[string]bool)}
}

// Calls returns the ordered list of operations invoked so far, useful for
// asserting on a tunnel actor's exact driver-call sequence.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *Mock) record(op string) {
	m.mu.Lock()
	m.calls = append(m.calls, op)
	m.mu.Unlock()
}

func (m *Mock) CreateInterface(name string) error {
	m.record("create_interface:" + name)
	if name == failureName {
		return ErrMockFailure
	}
	m.mu.Lock()
	m.created[name] = true
	m.mu.Unlock()
	return nil
}

func (m *Mock) ConfigureWireGuard(name string, cfg quickconfig.Config, opts Options) error {
	m.record("configure_wireguard:" + name)
	if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
		return err
	}
	return quickconfig.WriteFile(opts.ConfPath(name), cfg)
}

func (m *Mock) BringUpInterface(name string, opts Options) error {
	m.record("bring_up_interface:" + name)
	if name == failureName {
		return ErrMockFailure
	}
	m.mu.Lock()
	m.up[name] = true
	m.mu.Unlock()
	return nil
}

func (m *Mock) TeardownInterface(name string, opts Options) error {
	m.record("teardown_interface:" + name)
	_ = os.Remove(opts.ConfPath(name))
	m.mu.Lock()
	delete(m.up, name)
	m.mu.Unlock()
	if name == failureName {
		return ErrMockFailure
	}
	return nil
}

// InterfaceExists reports true once BringUpInterface has succeeded for
// name and until TeardownInterface removes it.
func (m *Mock) InterfaceExists(name string) (bool, error) {
	m.record("interface_exists:" + name)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.up[name], nil
}

func (m *Mock) ListInterfaces(opts Options) (map[string]quickconfig.Config, error) {
	m.record("list_interfaces")
	return quickconfig.ReadDir(opts.DataDir)
}

func (m *Mock) GenerateKeyPair() (privateKey, publicKey string, err error) {
	m.record("generate_key_pair")
	return generateKeyPairLibrary()
}

func (m *Mock) RxPacketStats(name string) (uint64, error) {
	m.record("rx_packet_stats:" + name)
	if name == failureName {
		return 0, ErrMockFailure
	}
	return mockRxPackets, nil
}

func (m *Mock) TxPacketStats(name string) (uint64, error) {
	m.record("tx_packet_stats:" + name)
	if name == failureName {
		return 0, ErrMockFailure
	}
	return mockTxPackets, nil
}

func (m *Mock) WGLatestHandshakes(name string) (int64, error) {
	m.record("wg_latest_handshakes:" + name)
	if name == failureName {
		return 0, ErrMockFailure
	}
	return mockHandshakeUTC, nil
}
