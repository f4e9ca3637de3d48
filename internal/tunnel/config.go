package tunnel

import (
	"fmt"

	"github.com/peridio/wgfleet/internal/quickconfig"
)

// buildConfig renders the .conf this tunnel writes, per the layout in §6:
// canonical [Interface]/[Peer] keys, the ID/PublicKey pair carried as
// comment-prefixed [Interface] extras, and a [Peridio] section carrying
// the application tunnel id.
func buildConfig(id string, iface Interface, peer Peer, opts Options) quickconfig.Config {
	ifaceKV := []quickconfig.KV{
		{Key: "Address", Value: iface.IPAddress.String() + "/32"},
		{Key: "ListenPort", Value: fmt.Sprintf("%d", iface.Port)},
		{Key: "PrivateKey", Value: iface.PrivateKey},
	}
	if iface.Table != "" {
		ifaceKV = append(ifaceKV, quickconfig.KV{Key: "Table", Value: iface.Table})
	}
	ifaceKV = append(ifaceKV, opts.Hooks...)
	ifaceKV = append(ifaceKV,
		quickconfig.KV{Key: "ID", Value: iface.ID},
		quickconfig.KV{Key: "PublicKey", Value: iface.PublicKey},
	)

	peerKV := []quickconfig.KV{
		{Key: "AllowedIPs", Value: peer.IPAddress.String() + "/32"},
		{Key: "PublicKey", Value: peer.PublicKey},
		{Key: "Endpoint", Value: fmt.Sprintf("%s:%d", peer.Endpoint, peer.Port)},
	}
	if peer.PersistentKeepalive > 0 {
		peerKV = append(peerKV, quickconfig.KV{Key: "PersistentKeepalive", Value: fmt.Sprintf("%d", peer.PersistentKeepalive)})
	}

	extra := append([]quickconfig.ExtraSection{
		{Name: "Peridio", Keys: []quickconfig.KV{{Key: "TunnelID", Value: id}}},
	}, opts.Extra...)

	return quickconfig.Config{Interface: ifaceKV, Peer: peerKV, Extra: extra}
}

// findExisting scans every .conf file under dataDir for one carrying
// Peridio.TunnelID == id, per the entry sequence's restart-adopt check.
// The interface name it returns is the conf's own filename key, which may
// differ from any freshly allocated Interface.ID the caller passed in.
func findExisting(confs map[string]quickconfig.Config, id string) (name string, cfg quickconfig.Config, found bool) {
	for n, c := range confs {
		for _, kv := range quickconfig.GetInExtra(c, "Peridio", "TunnelID") {
			if kv.Value == id {
				return n, c, true
			}
		}
	}
	return "", quickconfig.Config{}, false
}
