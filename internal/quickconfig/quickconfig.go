// Package quickconfig implements a bidirectional codec for wg-quick's
// ".conf" text format, extended with a convention for carrying
// application metadata as comment-prefixed key/value pairs inside named
// "extra" sections — the mechanism that lets a tunnel's .conf file
// round-trip its application-level tunnel identifier (Peridio.TunnelID).
//
// Unlike the canonical wg-quick parser, this codec never discards a key
// it doesn't recognize: non-canonical keys and sections are preserved,
// emitted with a leading "# " so wg-quick itself still treats them as
// comments, and read back byte-for-byte equivalent on the next parse.
package quickconfig

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// KV is an ordered key/value pair. Duplicate keys within one section are
// meaningful (e.g. multiple PreUp lines) so sections are sequences of KV,
// never maps.
type KV struct {
	Key   string
	Value string
}

// ExtraSection is a named, non-canonical (or partially non-canonical)
// section: either a section the [Interface]/[Peer] schema doesn't define
// (e.g. [Peridio]) or the non-canonical leftover keys of [Interface]/
// [Peer] itself.
type ExtraSection struct {
	Name string
	Keys []KV
}

// Config is the in-memory form of a .conf file: three ordered sequences
// labelled Interface, Peer, and Extra.
type Config struct {
	Interface []KV
	Peer      []KV
	Extra     []ExtraSection
}

// Error kinds surfaced by Decode, ReadFile, ParseEndpoint and
// ParseAllowedIPs. ErrInvalidInteger is declared for completeness; no
// function in this package returns it.
var (
	ErrFileNotFound             = errors.New("quickconfig: file not found")
	ErrEmptyFile                = errors.New("quickconfig: empty file")
	ErrInvalidConfig            = errors.New("quickconfig: invalid config")
	ErrInvalidInteger           = errors.New("quickconfig: invalid integer")
	ErrInvalidEndpointFormat    = errors.New("quickconfig: invalid endpoint format")
	ErrInvalidAllowedIPsFormat  = errors.New("quickconfig: invalid allowed ips format")
	ErrDecode                   = errors.New("quickconfig: decode error")
)

// MissingRequiredKeysError reports the canonical keys a .conf file was
// missing for the section that required them.
type MissingRequiredKeysError struct {
	Section string
	Keys    []string
}

func (e *MissingRequiredKeysError) Error() string {
	return fmt.Sprintf("quickconfig: section %s missing required keys %v", e.Section, e.Keys)
}

// interfaceCanonicalKeys and peerCanonicalKeys are the key sets wg-quick
// itself understands; anything else is emitted/parsed as an extra.
var interfaceCanonicalKeys = map[string]bool{
	"Address": true, "DNS": true, "MTU": true, "Table": true,
	"ListenPort": true, "PrivateKey": true, "PreUp": true, "PreDown": true,
	"PostUp": true, "PostDown": true, "SaveConfig": true,
}

var peerCanonicalKeys = map[string]bool{
	"AllowedIPs": true, "PublicKey": true, "Endpoint": true,
	"PersistentKeepalive": true, "PresharedKey": true,
}

// Encode renders the config as wg-quick text. Sections are emitted in
// order Interface, Peer, then Extra in insertion order, separated by one
// blank line. A key is printed bare ("k = v") if it's canonical for its
// section, else comment-prefixed ("# k = v"). Non-canonical section
// headers are themselves comment-prefixed.
func Encode(cfg Config) string {
	var buf bytes.Buffer

	buf.WriteString("[Interface]\n")
	for _, kv := range cfg.Interface {
		writeLine(&buf, "Interface", kv, interfaceCanonicalKeys)
	}

	if len(cfg.Peer) > 0 {
		buf.WriteString("\n[Peer]\n")
		for _, kv := range cfg.Peer {
			writeLine(&buf, "Peer", kv, peerCanonicalKeys)
		}
	}

	for _, sec := range cfg.Extra {
		buf.WriteString("\n")
		if sec.Name == "Interface" || sec.Name == "Peer" {
			fmt.Fprintf(&buf, "[%s]\n", sec.Name)
		} else {
			fmt.Fprintf(&buf, "# [%s]\n", sec.Name)
		}
		canon := map[string]bool(nil)
		if sec.Name == "Interface" {
			canon = interfaceCanonicalKeys
		} else if sec.Name == "Peer" {
			canon = peerCanonicalKeys
		}
		for _, kv := range sec.Keys {
			writeLine(&buf, sec.Name, kv, canon)
		}
	}

	return buf.String()
}

func writeLine(buf *bytes.Buffer, section string, kv KV, canon map[string]bool) {
	if canon != nil && canon[kv.Key] {
		fmt.Fprintf(buf, "%s = %s\n", kv.Key, kv.Value)
	} else {
		fmt.Fprintf(buf, "# %s = %s\n", kv.Key, kv.Value)
	}
}

// rawSection is a section as read off the wire, before canonical/extra
// classification.
type rawSection struct {
	name string
	kv   []KV
}

// Decode parses wg-quick text, reversing Encode. Blank lines and lines
// starting with ';' are dropped; a leading "# " is stripped before
// parsing, so comment-prefixed metadata participates like any other line.
// Non-canonical keys in [Interface]/[Peer] are moved to Extra; any other
// section is an Extra section outright. Duplicate keys and their order
// are preserved.
func Decode(text string) (Config, error) {
	if strings.TrimSpace(text) == "" {
		return Config{}, ErrEmptyFile
	}

	var sections []rawSection
	var top []KV
	var cur *rawSection

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, ";") {
			continue
		}
		if strings.HasPrefix(trimmed, "# ") {
			trimmed = trimmed[2:]
		} else if trimmed == "#" {
			trimmed = ""
			continue
		}

		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			name := trimmed[1 : len(trimmed)-1]
			sections = append(sections, rawSection{name: name})
			cur = &sections[len(sections)-1]
			continue
		}

		idx := strings.IndexByte(trimmed, '=')
		if idx < 0 {
			return Config{}, fmt.Errorf("%w: malformed line %q", ErrDecode, line)
		}
		key := strings.TrimSpace(trimmed[:idx])
		val := strings.TrimSpace(trimmed[idx+1:])
		if key == "" {
			return Config{}, fmt.Errorf("%w: empty key in line %q", ErrDecode, line)
		}
		if cur == nil {
			top = append(top, KV{Key: key, Value: val})
		} else {
			cur.kv = append(cur.kv, KV{Key: key, Value: val})
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if len(sections) == 0 && len(top) == 0 {
		return Config{}, ErrInvalidConfig
	}

	cfg := Config{}
	var extraTop ExtraSection
	extraTop.Name = "Interface"
	extraTop.Keys = append(extraTop.Keys, top...) // keys before any header belong to Interface's extras by convention

	for _, sec := range sections {
		switch sec.name {
		case "Interface":
			for _, kv := range sec.kv {
				if interfaceCanonicalKeys[kv.Key] {
					cfg.Interface = append(cfg.Interface, kv)
				} else {
					extraTop.Keys = append(extraTop.Keys, kv)
				}
			}
		case "Peer":
			var extraPeer ExtraSection
			extraPeer.Name = "Peer"
			for _, kv := range sec.kv {
				if peerCanonicalKeys[kv.Key] {
					cfg.Peer = append(cfg.Peer, kv)
				} else {
					extraPeer.Keys = append(extraPeer.Keys, kv)
				}
			}
			if len(extraPeer.Keys) > 0 {
				cfg.Extra = append(cfg.Extra, extraPeer)
			}
		default:
			cfg.Extra = append(cfg.Extra, ExtraSection{Name: sec.name, Keys: sec.kv})
		}
	}

	if len(extraTop.Keys) > 0 {
		// Keep Interface's extras as the first extra section, matching
		// Encode's emission order (Interface extras logically belong with
		// the Interface block).
		cfg.Extra = append([]ExtraSection{extraTop}, cfg.Extra...)
	}

	return cfg, nil
}

// GetInExtra drills into Extra by a path of [section, key, ...] and
// returns the matching leaf (k,v) pairs in order, or nil if any step is
// absent. Only a two-element path (section, key) is meaningful for this
// shape, but the signature accepts a variadic path to mirror the source's
// "drill into nested structure" helper.
func GetInExtra(cfg Config, path ...string) []KV {
	if len(path) != 2 {
		return nil
	}
	section, key := path[0], path[1]
	for _, sec := range cfg.Extra {
		if sec.Name != section {
			continue
		}
		var out []KV
		for _, kv := range sec.Keys {
			if kv.Key == key {
				out = append(out, kv)
			}
		}
		return out
	}
	return nil
}

// Get returns the first value for key within the named canonical section
// ("Interface" or "Peer"), or "" with ok=false if absent.
func Get(cfg Config, section, key string) (string, bool) {
	var list []KV
	switch section {
	case "Interface":
		list = cfg.Interface
	case "Peer":
		list = cfg.Peer
	}
	for _, kv := range list {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// RequireKeys validates that every key in required is present in section,
// returning a MissingRequiredKeysError listing every absence at once.
func RequireKeys(cfg Config, section string, required []string) error {
	var missing []string
	for _, k := range required {
		if _, ok := Get(cfg, section, k); !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &MissingRequiredKeysError{Section: section, Keys: missing}
	}
	return nil
}

// ParseEndpoint splits a wg-quick "host:port" endpoint string.
func ParseEndpoint(s string) (host string, port int, err error) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidEndpointFormat, s)
	}
	host = s[:idx]
	port, err = strconv.Atoi(s[idx+1:])
	if err != nil || host == "" || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidEndpointFormat, s)
	}
	return host, port, nil
}

// ParseAllowedIPs validates a wg-quick "AllowedIPs" value for this
// system's always-/32 convention and returns the bare address.
func ParseAllowedIPs(s string) (string, error) {
	s = strings.TrimSpace(s)
	idx := strings.IndexByte(s, '/')
	if idx < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAllowedIPsFormat, s)
	}
	if s[idx+1:] != "32" {
		return "", fmt.Errorf("%w: %q", ErrInvalidAllowedIPsFormat, s)
	}
	return s[:idx], nil
}

// ReadFile reads and decodes a .conf file from disk, translating a
// missing file into ErrFileNotFound.
func ReadFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, ErrFileNotFound
		}
		return Config{}, fmt.Errorf("quickconfig: reading %s: %w", path, err)
	}
	return Decode(string(b))
}

// WriteFile encodes cfg and writes it to path.
func WriteFile(path string, cfg Config) error {
	return os.WriteFile(path, []byte(Encode(cfg)), 0o600)
}

// ReadDir parses every "*.conf" file in dir, keyed by interface id (the
// file's base name without extension). A file that fails to decode is
// skipped rather than aborting the whole scan, since a single malformed
// leftover .conf shouldn't block the rest of the fleet from being
// adopted on startup.
func ReadDir(dir string) (map[string]Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Config{}, nil
		}
		return nil, fmt.Errorf("quickconfig: reading dir %s: %w", dir, err)
	}

	out := make(map[string]Config)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".conf") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".conf")
		cfg, err := ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out[id] = cfg
	}
	return out, nil
}
