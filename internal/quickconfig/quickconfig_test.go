package quickconfig

import (
	"reflect"
	"strings"
	"testing"
)

const literalConfig = `[Interface]
Address = 10.0.0.1
ListenPort = 8080
PrivateKey = 2PSyTqm+3rXzUK+T8jBhgZp9UHjFkgVZv4bXncWMyXY=
# ID = peridio-56X4U4Q
# PublicKey = Pu7ymHtDqF4X9VNjVj9mYFBh/z7LGxY6VQJAGiSEgTM=

[Peer]
AllowedIPs = 10.0.0.3/32
PublicKey = h2W8fjxUwZH+G8/Qp/H7kzn4SQz/EJIhOVFMh6mmtX4=
Endpoint = 10.0.0.2:8081
PersistentKeepalive = 25

# [Peridio]
# TunnelID = prn:1:someidentifier
# A = B
# A = C
`

func TestDecodeLiteralConfig(t *testing.T) {
	cfg, err := Decode(literalConfig)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	wantInterface := []KV{
		{"Address", "10.0.0.1"},
		{"ListenPort", "8080"},
		{"PrivateKey", "2PSyTqm+3rXzUK+T8jBhgZp9UHjFkgVZv4bXncWMyXY="},
	}
	if !reflect.DeepEqual(cfg.Interface, wantInterface) {
		t.Errorf("Interface = %v, want %v", cfg.Interface, wantInterface)
	}

	wantPeer := []KV{
		{"AllowedIPs", "10.0.0.3/32"},
		{"PublicKey", "h2W8fjxUwZH+G8/Qp/H7kzn4SQz/EJIhOVFMh6mmtX4="},
		{"Endpoint", "10.0.0.2:8081"},
		{"PersistentKeepalive", "25"},
	}
	if !reflect.DeepEqual(cfg.Peer, wantPeer) {
		t.Errorf("Peer = %v, want %v", cfg.Peer, wantPeer)
	}

	if len(cfg.Extra) != 2 {
		t.Fatalf("Extra sections = %d, want 2 (Interface extras, Peridio): %v", len(cfg.Extra), cfg.Extra)
	}
	if cfg.Extra[0].Name != "Interface" {
		t.Errorf("Extra[0].Name = %q, want Interface", cfg.Extra[0].Name)
	}
	wantIfaceExtra := []KV{
		{"ID", "peridio-56X4U4Q"},
		{"PublicKey", "Pu7ymHtDqF4X9VNjVj9mYFBh/z7LGxY6VQJAGiSEgTM="},
	}
	if !reflect.DeepEqual(cfg.Extra[0].Keys, wantIfaceExtra) {
		t.Errorf("Interface extras = %v, want %v", cfg.Extra[0].Keys, wantIfaceExtra)
	}

	peridio := cfg.Extra[1]
	if peridio.Name != "Peridio" {
		t.Errorf("Extra[1].Name = %q, want Peridio", peridio.Name)
	}

	got := GetInExtra(cfg, "Peridio", "A")
	want := []KV{{"A", "B"}, {"A", "C"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetInExtra(Peridio, A) = %v, want %v", got, want)
	}

	tunnelID := GetInExtra(cfg, "Peridio", "TunnelID")
	if len(tunnelID) != 1 || tunnelID[0].Value != "prn:1:someidentifier" {
		t.Errorf("GetInExtra(Peridio, TunnelID) = %v", tunnelID)
	}
}

func TestGetInExtraAbsent(t *testing.T) {
	cfg, err := Decode(literalConfig)
	if err != nil {
		t.Fatal(err)
	}
	if got := GetInExtra(cfg, "Nope", "X"); got != nil {
		t.Errorf("GetInExtra for absent section = %v, want nil", got)
	}
	if got := GetInExtra(cfg, "Peridio", "Nope"); got != nil {
		t.Errorf("GetInExtra for absent key = %v, want nil", got)
	}
}

func TestEncodeDecodeRoundTripInterfaceAndPeer(t *testing.T) {
	cfg := Config{
		Interface: []KV{
			{"Address", "10.0.0.1/32"},
			{"ListenPort", "51820"},
			{"PrivateKey", "cHJpdmF0ZWtleWJhc2U2NHBhZGRpbmdnb2VzaGVyZQ=="},
		},
		Peer: []KV{
			{"AllowedIPs", "10.0.0.2/32"},
			{"PublicKey", "cHVibGlja2V5YmFzZTY0cGFkZGluZ2dvZXNoZXJl"},
			{"Endpoint", "203.0.113.9:51820"},
			{"PersistentKeepalive", "25"},
		},
		Extra: []ExtraSection{
			{Name: "Interface", Keys: []KV{
				{"ID", "peridio-ABC1234"},
				{"PublicKey", "aWZhY2VwdWJrZXlnb2VzaGVyZXBhZGRpbmdwYWQ="},
			}},
			{Name: "Peridio", Keys: []KV{
				{"TunnelID", "t-1"},
			}},
		},
	}

	text := Encode(cfg)
	got, err := Decode(text)
	if err != nil {
		t.Fatalf("Decode(Encode(cfg)): %v", err)
	}
	if !reflect.DeepEqual(got.Interface, cfg.Interface) {
		t.Errorf("round-trip Interface = %v, want %v", got.Interface, cfg.Interface)
	}
	if !reflect.DeepEqual(got.Peer, cfg.Peer) {
		t.Errorf("round-trip Peer = %v, want %v", got.Peer, cfg.Peer)
	}
	if !reflect.DeepEqual(got.Extra, cfg.Extra) {
		t.Errorf("round-trip Extra = %v, want %v", got.Extra, cfg.Extra)
	}
}

func TestEncodeCommentsNonCanonicalSection(t *testing.T) {
	cfg := Config{
		Extra: []ExtraSection{{Name: "Peridio", Keys: []KV{{"TunnelID", "t-1"}}}},
	}
	text := Encode(cfg)
	if !strings.Contains(text, "# [Peridio]") {
		t.Errorf("Encode output missing commented extra header: %q", text)
	}
	if !strings.Contains(text, "# TunnelID = t-1") {
		t.Errorf("Encode output missing commented extra key: %q", text)
	}
}

func TestDecodeEmptyFile(t *testing.T) {
	if _, err := Decode(""); err != ErrEmptyFile {
		t.Errorf("Decode(\"\") err = %v, want ErrEmptyFile", err)
	}
	if _, err := Decode("   \n\n  "); err != ErrEmptyFile {
		t.Errorf("Decode(whitespace) err = %v, want ErrEmptyFile", err)
	}
}

func TestDecodeMalformedLine(t *testing.T) {
	if _, err := Decode("[Interface]\nnotakeyvalue\n"); err == nil {
		t.Errorf("Decode(malformed) expected error")
	}
}

func TestRequireKeysMissing(t *testing.T) {
	cfg := Config{Interface: []KV{{"Address", "10.0.0.1"}}}
	err := RequireKeys(cfg, "Interface", []string{"Address", "PrivateKey", "ListenPort"})
	if err == nil {
		t.Fatal("expected MissingRequiredKeysError")
	}
	var mk *MissingRequiredKeysError
	if !asMissingKeys(err, &mk) {
		t.Fatalf("error is not *MissingRequiredKeysError: %v", err)
	}
	want := []string{"PrivateKey", "ListenPort"}
	if !reflect.DeepEqual(mk.Keys, want) {
		t.Errorf("missing keys = %v, want %v", mk.Keys, want)
	}
}

func asMissingKeys(err error, target **MissingRequiredKeysError) bool {
	if mk, ok := err.(*MissingRequiredKeysError); ok {
		*target = mk
		return true
	}
	return false
}

func TestParseEndpoint(t *testing.T) {
	host, port, err := ParseEndpoint("10.0.0.2:8081")
	if err != nil || host != "10.0.0.2" || port != 8081 {
		t.Errorf("ParseEndpoint = %q, %d, %v", host, port, err)
	}
	if _, _, err := ParseEndpoint("no-port-here"); err == nil {
		t.Errorf("expected error for endpoint without port")
	}
}

func TestParseAllowedIPs(t *testing.T) {
	ip, err := ParseAllowedIPs("10.0.0.3/32")
	if err != nil || ip != "10.0.0.3" {
		t.Errorf("ParseAllowedIPs = %q, %v", ip, err)
	}
	if _, err := ParseAllowedIPs("10.0.0.3/24"); err == nil {
		t.Errorf("expected error for non-/32 allowed ips")
	}
}

func TestReadWriteFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Interface: []KV{{"Address", "10.0.0.1/32"}, {"PrivateKey", "key"}},
		Peer:      []KV{{"PublicKey", "pk"}, {"Endpoint", "1.2.3.4:51820"}},
		Extra:     []ExtraSection{{Name: "Peridio", Keys: []KV{{"TunnelID", "t-9"}}}},
	}
	path := dir + "/peridio-ABC1234.conf"
	if err := WriteFile(path, cfg); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("ReadFile round trip = %v, want %v", got, cfg)
	}

	if _, err := ReadFile(dir + "/missing.conf"); err != ErrFileNotFound {
		t.Errorf("ReadFile(missing) = %v, want ErrFileNotFound", err)
	}

	byID, err := ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if _, ok := byID["peridio-ABC1234"]; !ok {
		t.Errorf("ReadDir missing entry for peridio-ABC1234: %v", byID)
	}
}
