// Package snaptest provides an in-memory wallet with the snap installed, for tests.
package snaptest

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tidwall/gjson"
	"moff.io/snap-bridge/internal/snap"
)

const (
	MainnetURL = "ws://mainnet.snaptest.invalid"
	TestnetURL = "ws://testnet.snaptest.invalid"
)

var words = []string{
	"apple", "bridge", "canyon", "delta", "ember", "falcon", "garden", "harbor", "island", "jungle",
	"kernel", "lemon", "meadow", "nectar", "orbit", "pepper", "quartz", "river", "saddle", "timber",
	"umbrella", "velvet", "walnut", "yonder",
}

type account struct {
	address  string
	name     string
	key      *ecdsa.PrivateKey
	selected bool
}

// Plugin implements snap.Transport on top of an in-memory account store.
type Plugin struct {
	mu            sync.Mutex
	snapID        string
	connected     bool
	installed     bool
	refuseInstall bool
	rejectSigning bool

	accounts []*account
	network  snap.Network
	networks map[string]string
	store    map[string]string
	metadata []json.RawMessage

	calls    map[string]int
	failures map[string]error
	signIDs  int64
}

func New(snapID string) *Plugin {
	return &Plugin{
		snapID:   snapID,
		network:  snap.Network{Name: snap.NetworkTestnet, RpcUrl: TestnetURL},
		networks: map[string]string{snap.NetworkMainnet: MainnetURL, snap.NetworkTestnet: TestnetURL},
		store:    map[string]string{},
		calls:    map[string]int{},
		failures: map[string]error{},
	}
}

func (p *Plugin) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

func (p *Plugin) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Plugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// Calls returns how many times a wallet method or snap capability was requested.
func (p *Plugin) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// TotalSnapCalls counts every capability invocation.
func (p *Plugin) TotalSnapCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for m, c := range p.calls {
		if !strings.HasPrefix(m, "wallet_") {
			n += c
		}
	}
	return n
}

// FailNext makes the next invocation of method return err.
func (p *Plugin) FailNext(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[method] = err
}

func (p *Plugin) RejectSigning(reject bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectSigning = reject
}

func (p *Plugin) RefuseInstall(refuse bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refuseInstall = refuse
}

// SetNetworkURL changes the endpoint reported for name.
func (p *Plugin) SetNetworkURL(name, rpcURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.networks[name] = rpcURL
	if p.network.Name == name {
		p.network.RpcUrl = rpcURL
	}
}

// ForceSelected flags addresses as selected without clearing the others.
func (p *Plugin) ForceSelected(addresses ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		for _, addr := range addresses {
			if snap.SameAddress(a.address, addr) {
				a.selected = true
			}
		}
	}
}

// AddressForSeed returns the address createAccountWithSeed derives from seed.
func AddressForSeed(seed string) string {
	return crypto.PubkeyToAddress(keyForSeed(seed).PublicKey).Hex()
}

func keyForSeed(seed string) *ecdsa.PrivateKey {
	sum := sha256.Sum256([]byte(seed))
	key, err := crypto.ToECDSA(sum[:])
	if err != nil {
		panic(err)
	}
	return key
}

func rpcErr(code int, format string, args ...interface{}) error {
	return &snap.RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (p *Plugin) Request(ctx context.Context, method string, params interface{}) (gjson.Result, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return gjson.Result{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return gjson.Result{}, snap.ErrTransportUnavailable
	}
	p.calls[method]++
	args := gjson.ParseBytes(raw)

	var out interface{}
	switch method {
	case "wallet_requestSnaps":
		if p.refuseInstall {
			return gjson.Result{}, rpcErr(snap.CodeUserRejected, "User rejected the request.")
		}
		p.installed = true
		out = p.snapsLocked()
	case "wallet_getSnaps":
		out = p.snapsLocked()
	case "wallet_invokeSnap":
		if !p.installed || args.Get("snapId").String() != p.snapID {
			return gjson.Result{}, rpcErr(snap.CodeUnauthorized, "snap %v is not permitted", args.Get("snapId").String())
		}
		inner := args.Get("request.method").String()
		p.calls[inner]++
		if err, ok := p.failures[inner]; ok {
			delete(p.failures, inner)
			return gjson.Result{}, err
		}
		out, err = p.invokeLocked(inner, args.Get("request.params"))
		if err != nil {
			return gjson.Result{}, err
		}
	default:
		return gjson.Result{}, rpcErr(-32601, "method %v not found", method)
	}
	res, err := json.Marshal(out)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(res), nil
}

func (p *Plugin) snapsLocked() map[string]interface{} {
	if !p.installed {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		p.snapID: snap.InstalledSnap{ID: p.snapID, Version: "0.1.0", Enabled: true},
	}
}

func (p *Plugin) findLocked(address string) (int, *account) {
	for i, a := range p.accounts {
		if snap.SameAddress(a.address, address) {
			return i, a
		}
	}
	return -1, nil
}

func (p *Plugin) invokeLocked(method string, params gjson.Result) (interface{}, error) {
	switch method {
	case snap.MethodInitKeyring:
		return true, nil
	case snap.MethodCreateSeed:
		picked := make([]string, 12)
		for i := range picked {
			picked[i] = words[rand.Intn(len(words))]
		}
		seed := strings.Join(picked, " ")
		return snap.Seed{Address: AddressForSeed(seed), Seed: seed}, nil
	case snap.MethodCreateAccountWithSeed:
		seed := params.Get("seed").String()
		if seed == "" {
			return nil, rpcErr(-32602, "seed is required")
		}
		key := keyForSeed(seed)
		address := crypto.PubkeyToAddress(key.PublicKey).Hex()
		if _, a := p.findLocked(address); a == nil {
			p.accounts = append(p.accounts, &account{address: address, name: params.Get("name").String(), key: key})
		}
		return map[string]string{"address": address}, nil
	case snap.MethodForgetAccount:
		i, a := p.findLocked(params.Get("address").String())
		if a == nil {
			return nil, rpcErr(-32000, "account %v not found", params.Get("address").String())
		}
		p.accounts = append(p.accounts[:i], p.accounts[i+1:]...)
		return true, nil
	case snap.MethodListAccounts:
		list := make([]snap.Account, 0, len(p.accounts))
		for _, a := range p.accounts {
			list = append(list, snap.Account{Address: a.address, Name: a.name, IsSelected: a.selected})
		}
		return list, nil
	case snap.MethodImportAccountsFromJSON:
		if params.Get("password").String() == "" {
			return nil, rpcErr(-32602, "password is required")
		}
		imported := 0
		for _, entry := range params.Get("json.accounts").Array() {
			key := keyForSeed(entry.Get("address").String() + params.Get("password").String())
			address := crypto.PubkeyToAddress(key.PublicKey).Hex()
			if _, a := p.findLocked(address); a != nil {
				continue
			}
			p.accounts = append(p.accounts, &account{address: address, name: entry.Get("meta.name").String(), key: key})
			imported++
		}
		return map[string]int{"imported": imported}, nil
	case snap.MethodSelectAccount:
		_, target := p.findLocked(params.Get("addressSelect").String())
		if target == nil {
			return nil, rpcErr(-32000, "account %v not found", params.Get("addressSelect").String())
		}
		for _, a := range p.accounts {
			a.selected = a == target
		}
		return true, nil
	case snap.MethodGetNetwork:
		return p.network, nil
	case snap.MethodSetNetwork:
		name := params.Get("network").String()
		url, ok := p.networks[name]
		if !ok {
			return nil, rpcErr(-32602, "unknown network %v", name)
		}
		if u := params.Get("rpcUrl").String(); u != "" {
			url = u
		}
		p.network = snap.Network{Name: name, RpcUrl: url}
		return p.network, nil
	case snap.MethodSignRaw:
		if p.rejectSigning {
			return nil, rpcErr(snap.CodeUserRejected, "User rejected the request.")
		}
		_, a := p.findLocked(params.Get("address").String())
		if a == nil {
			return nil, rpcErr(-32000, "account %v not found", params.Get("address").String())
		}
		data, err := hexutil.Decode(params.Get("data").String())
		if err != nil {
			return nil, rpcErr(-32602, "bad data: %v", err)
		}
		digest := accounts.TextHash(data)
		if params.Get("type").String() == snap.SignTypePayload {
			if len(data) != 32 {
				return nil, rpcErr(-32602, "payload must be 32 bytes")
			}
			digest = data
		}
		sig, err := crypto.Sign(digest, a.key)
		if err != nil {
			return nil, rpcErr(-32000, "sign: %v", err)
		}
		p.signIDs++
		return snap.SignResult{ID: p.signIDs, Signature: hexutil.Encode(sig)}, nil
	case snap.MethodSetStore:
		p.store[params.Get("address").String()] = p.network.Name
		return true, nil
	case snap.MethodGetStore:
		v, ok := p.store[params.Get("address").String()]
		if !ok {
			return nil, nil
		}
		return map[string]string{"address": params.Get("address").String(), "network": v}, nil
	case snap.MethodRemoveStore:
		delete(p.store, params.Get("address").String())
		return true, nil
	case snap.MethodClearAllStores:
		p.store = map[string]string{}
		return true, nil
	case snap.MethodGetAllAccounts:
		out := make([]map[string]interface{}, 0, len(p.accounts))
		for _, a := range p.accounts {
			out = append(out, map[string]interface{}{"address": a.address, "meta": map[string]string{"name": a.name}})
		}
		return out, nil
	case snap.MethodGetAllMetadatas, snap.MethodListMetadata:
		out := make([]json.RawMessage, len(p.metadata))
		copy(out, p.metadata)
		return out, nil
	case snap.MethodProvideMetadata:
		p.metadata = append(p.metadata, json.RawMessage(params.Raw))
		return true, nil
	}
	return nil, rpcErr(-32601, "snap method %v not found", method)
}
