// Package session keeps the bridge's view of the wallet: plugin status, network, provider, accounts and signer.
package session

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"moff.io/snap-bridge/internal/chain"
	"moff.io/snap-bridge/internal/snap"
)

type SignerStatus int

const (
	SignerUnbuilt SignerStatus = iota
	SignerBuilding
	SignerReady
	SignerStale
)

func (s SignerStatus) String() string {
	switch s {
	case SignerBuilding:
		return "building"
	case SignerReady:
		return "ready"
	case SignerStale:
		return "stale"
	default:
		return "unbuilt"
	}
}

// Field is a bit set naming the parts of the state a change touched.
type Field uint8

const (
	FieldPlugin Field = 1 << iota
	FieldNetwork
	FieldProvider
	FieldAccounts
	FieldSigner
	FieldError
)

func (f Field) Has(o Field) bool {
	return f&o != 0
}

// Snapshot is a copy of the state; mutating it does not affect the State it came from.
type Snapshot struct {
	PluginInstalled    bool
	PluginReady        bool
	Snap               *snap.InstalledSnap
	LastError          error
	Network            *snap.Network
	Provider           *chain.Provider
	ProviderGeneration uint64
	Accounts           []snap.Account
	Signer             *chain.Signer
	SignerStatus       SignerStatus
}

// SelectedAccount returns the account flagged selected, nil when none is.
func (s *Snapshot) SelectedAccount() *snap.Account {
	for i := range s.Accounts {
		if s.Accounts[i].IsSelected {
			a := s.Accounts[i]
			return &a
		}
	}
	return nil
}

func (s *Snapshot) copy() Snapshot {
	out := *s
	if s.Snap != nil {
		installed := *s.Snap
		out.Snap = &installed
	}
	if s.Network != nil {
		n := *s.Network
		out.Network = &n
	}
	if s.Accounts != nil {
		out.Accounts = append([]snap.Account(nil), s.Accounts...)
	}
	return out
}

// State has a single owner, the bridge; everyone else reads snapshots.
type State struct {
	mu    sync.RWMutex
	cur   Snapshot
	feed  event.Feed
	scope event.SubscriptionScope
}

func New() *State {
	return &State{}
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.copy()
}

// Subscribe delivers the Field set of every applied change. Update blocks until every
// subscriber received the value, so ch must be drained promptly; readers that may stall
// use Watch instead.
func (s *State) Subscribe(ch chan<- Field) event.Subscription {
	return s.scope.Track(s.feed.Subscribe(ch))
}

// Close ends every subscription.
func (s *State) Close() {
	s.scope.Close()
}

// Update applies fn atomically. Providers replaced during fn are retired once the lock is
// released; each closes when its last in-flight call releases it.
func (s *State) Update(fn func(tx *Tx)) {
	s.mu.Lock()
	tx := &Tx{s: &s.cur}
	fn(tx)
	s.mu.Unlock()

	for _, p := range tx.retired {
		p.Retire()
	}
	if tx.changed != 0 {
		s.feed.Send(tx.changed)
	}
}

// Tx is the mutable view handed to Update callbacks. It must not escape the callback.
type Tx struct {
	s       *Snapshot
	changed Field
	retired []*chain.Provider
}

// Current returns a copy of the state as modified so far in this transaction.
func (tx *Tx) Current() Snapshot {
	return tx.s.copy()
}

func (tx *Tx) SetPlugin(installed *snap.InstalledSnap) {
	if installed == nil {
		tx.s.Snap = nil
		tx.s.PluginInstalled = false
		tx.s.PluginReady = false
	} else {
		v := *installed
		tx.s.Snap = &v
		tx.s.PluginInstalled = true
		tx.s.PluginReady = installed.Enabled && !installed.Blocked
	}
	tx.changed |= FieldPlugin
}

func (tx *Tx) SetLastError(err error) {
	tx.s.LastError = err
	tx.changed |= FieldError
}

// SetNetwork stores n. A different network drops the provider, bumps the provider
// generation and marks a built signer stale. It reports whether the network changed.
func (tx *Tx) SetNetwork(n snap.Network) bool {
	if tx.s.Network != nil && *tx.s.Network == n {
		return false
	}
	tx.s.Network = &n
	tx.changed |= FieldNetwork
	tx.dropProvider()
	return true
}

func (tx *Tx) dropProvider() {
	tx.s.ProviderGeneration++
	if tx.s.Provider != nil {
		tx.retired = append(tx.retired, tx.s.Provider)
		tx.s.Provider = nil
		tx.changed |= FieldProvider
	}
	if tx.s.Signer != nil || tx.s.SignerStatus == SignerBuilding {
		tx.s.SignerStatus = SignerStale
		tx.changed |= FieldSigner
	}
}

// SetProvider stores p if the provider generation is still generation and p serves the
// current network. Otherwise p is retired and false is returned.
func (tx *Tx) SetProvider(p *chain.Provider, generation uint64) bool {
	if generation != tx.s.ProviderGeneration || (tx.s.Network != nil && p.Network() != *tx.s.Network) {
		tx.retired = append(tx.retired, p)
		return false
	}
	if tx.s.Provider == p {
		return true
	}
	if tx.s.Provider != nil {
		tx.retired = append(tx.retired, tx.s.Provider)
		if tx.s.Signer != nil {
			tx.s.SignerStatus = SignerStale
			tx.changed |= FieldSigner
		}
	}
	tx.s.Provider = p
	tx.changed |= FieldProvider
	return true
}

func (tx *Tx) SetAccounts(accounts []snap.Account) {
	tx.s.Accounts = append([]snap.Account(nil), accounts...)
	tx.changed |= FieldAccounts
}

func (tx *Tx) SetSignerStatus(status SignerStatus) {
	tx.s.SignerStatus = status
	tx.changed |= FieldSigner
}

// SetSigner stores a ready signer.
func (tx *Tx) SetSigner(signer *chain.Signer) {
	tx.s.Signer = signer
	tx.s.SignerStatus = SignerReady
	tx.changed |= FieldSigner
}

// ClearSigner forgets the signer.
func (tx *Tx) ClearSigner() {
	tx.s.Signer = nil
	tx.s.SignerStatus = SignerUnbuilt
	tx.changed |= FieldSigner
}

func (tx *Tx) ProviderGeneration() uint64 {
	return tx.s.ProviderGeneration
}

// ClearProvider drops the current provider as a network change would.
func (tx *Tx) ClearProvider() {
	tx.dropProvider()
}
