package chain

import "moff.io/snap-bridge/internal/snap"

// Blockchain is a network the bridge knows how to reach without asking the snap.
type Blockchain struct {
	ID      int
	IDHex   string
	Name    string
	RpcUrl  string
	Scanner string
}

var Mapping = map[string]*Blockchain{
	snap.NetworkMainnet: {
		ID:      13939,
		IDHex:   "0x3673",
		Name:    snap.NetworkMainnet,
		RpcUrl:  "wss://rpc.reefscan.com/ws",
		Scanner: "https://reefscan.com",
	},
	snap.NetworkTestnet: {
		ID:      13939,
		IDHex:   "0x3673",
		Name:    snap.NetworkTestnet,
		RpcUrl:  "wss://rpc-testnet.reefscan.com/ws",
		Scanner: "https://testnet.reefscan.com",
	},
}

// DefaultNetwork returns the well-known descriptor for name, ok is false for unknown names.
func DefaultNetwork(name string) (snap.Network, bool) {
	b, ok := Mapping[name]
	if !ok {
		return snap.Network{}, false
	}
	return snap.Network{Name: b.Name, RpcUrl: b.RpcUrl}, true
}
