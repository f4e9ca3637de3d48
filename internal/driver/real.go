package driver

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/crypto/curve25519"

	"github.com/peridio/wgfleet/internal/quickconfig"
)

// validInterfaceName matches the Linux network-interface name charset
// (alphanumeric, hyphen, underscore, max 15 bytes) so that a tunnel id
// can never be used to inject extra shell arguments.
var validInterfaceName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,15}$`)

func validateName(name string) error {
	if !validInterfaceName.MatchString(name) {
		return fmt.Errorf("driver: invalid interface name %q", name)
	}
	return nil
}

// Real shells out to wg, wg-quick and ip, and reads /sys/class/net.
// It implements Driver.
type Real struct{}

var _ Driver = (*Real)(nil)

// NewReal constructs the shell-backed driver.
func NewReal() *Real { return &Real{} }

func (r *Real) CreateInterface(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	cmd := exec.Command("ip", "link", "add", "dev", name, "type", "wireguard")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &CommandError{Op: "create_interface", ExitCode: exitCode(err), Output: string(out), Err: err}
	}
	return nil
}

func (r *Real) ConfigureWireGuard(name string, cfg quickconfig.Config, opts Options) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
		return fmt.Errorf("driver: configure_wireguard: %w", err)
	}
	return quickconfig.WriteFile(opts.ConfPath(name), cfg)
}

func (r *Real) BringUpInterface(name string, opts Options) error {
	if err := validateName(name); err != nil {
		return err
	}
	cmd := exec.Command("wg-quick", "up", opts.ConfPath(name))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &CommandError{Op: "bring_up_interface", ExitCode: exitCode(err), Output: string(out), Err: err}
	}
	return nil
}

func (r *Real) TeardownInterface(name string, opts Options) error {
	var downErr error
	if err := validateName(name); err == nil {
		cmd := exec.Command("wg-quick", "down", opts.ConfPath(name))
		if out, err := cmd.CombinedOutput(); err != nil {
			downErr = &CommandError{Op: "teardown_interface", ExitCode: exitCode(err), Output: string(out), Err: err}
		}
	} else {
		downErr = err
	}
	// The .conf file is removed unconditionally; a failed wg-quick down
	// (e.g. the interface is already gone) must not leave stale state
	// behind for the next allocation to trip over.
	_ = os.Remove(opts.ConfPath(name))
	return downErr
}

func (r *Real) ListInterfaces(opts Options) (map[string]quickconfig.Config, error) {
	return quickconfig.ReadDir(opts.DataDir)
}

func (r *Real) GenerateKeyPair() (privateKey, publicKey string, err error) {
	genOut, err := exec.Command("wg", "genkey").Output()
	if err != nil {
		return "", "", fmt.Errorf("driver: generate_key_pair: wg genkey: %w", err)
	}
	privateKey = strings.TrimSpace(string(genOut))

	pubCmd := exec.Command("wg", "pubkey")
	pubCmd.Stdin = strings.NewReader(privateKey + "\n")
	pubOut, err := pubCmd.Output()
	if err != nil {
		return "", "", fmt.Errorf("driver: generate_key_pair: wg pubkey: %w", err)
	}
	publicKey = strings.TrimSpace(string(pubOut))
	return privateKey, publicKey, nil
}

func (r *Real) RxPacketStats(name string) (uint64, error) {
	return readSysfsCounter(name, "rx_packets")
}

func (r *Real) TxPacketStats(name string) (uint64, error) {
	return readSysfsCounter(name, "tx_packets")
}

func readSysfsCounter(name, counter string) (uint64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	path := fmt.Sprintf("/sys/class/net/%s/statistics/%s", name, counter)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("driver: read %s: %w", counter, err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("driver: parse %s: %w", counter, err)
	}
	return n, nil
}

func (r *Real) InterfaceExists(name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	if _, err := os.Stat("/sys/class/net/" + name); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("driver: interface_exists: %w", err)
	}
	return true, nil
}

func (r *Real) WGLatestHandshakes(name string) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	out, err := exec.Command("wg", "show", name, "latest-handshakes").Output()
	if err != nil {
		return 0, fmt.Errorf("driver: wg_latest_handshakes: %w", err)
	}
	line := strings.TrimSpace(string(out))
	if line == "" {
		return 0, nil
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, fmt.Errorf("driver: wg_latest_handshakes: unexpected output %q", line)
	}
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("driver: wg_latest_handshakes: parse %q: %w", fields[1], err)
	}
	return ts, nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if ok := errorsAsExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func errorsAsExitError(err error, target **exec.ExitError) bool {
	if e, ok := err.(*exec.ExitError); ok {
		*target = e
		return true
	}
	return false
}

// publicKeyFromPrivate derives a base64 public key from a base64 private
// key without shelling out; the driver tests use it to check that the
// Mock's generated pair is a matching Curve25519 pair.
func publicKeyFromPrivate(privateKeyBase64 string) (string, error) {
	priv, err := decodeKey(privateKeyBase64)
	if err != nil {
		return "", err
	}
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, priv)
	return encodeKey(pub[:]), nil
}
