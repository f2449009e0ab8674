// Package bridge orchestrates the wallet snap, the chain provider and the session state.
//
// Workflows that change the session run one at a time. Contract calls and message signing
// do not hold the workflow lock: they capture the signer when they start, and their outcome
// is folded back only if the provider they used is still current.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"moff.io/snap-bridge/internal/chain"
	"moff.io/snap-bridge/internal/database"
	"moff.io/snap-bridge/internal/session"
	"moff.io/snap-bridge/internal/snap"
	pkgcommon "moff.io/snap-bridge/pkg/common"
	"moff.io/snap-bridge/pkg/log"
	"moff.io/snap-bridge/pkg/log/meta"
)

// Recorder receives the outcome of every workflow.
type Recorder interface {
	Record(ctx context.Context, record *database.ActionRecord)
}

// MetadataStore remembers chain metadata already provided to the snap.
type MetadataStore interface {
	GetMetadata(ctx context.Context, network string) (*snap.Metadata, error)
	SetMetadata(ctx context.Context, md *snap.Metadata) error
}

// KeystoreSource loads keystore exports and their password from outside the process.
type KeystoreSource interface {
	Keystore(ctx context.Context, key string) (json.RawMessage, error)
	Password(ctx context.Context) (string, error)
}

type Options struct {
	Client *snap.Client
	Dial   chain.DialFunc
	// Flippers maps a network name to the flipper contract deployed there.
	Flippers  map[string]common.Address
	Recorders []Recorder
	Metadata  MetadataStore
	Keystore  KeystoreSource
}

type Bridge struct {
	mu       sync.Mutex
	client   *snap.Client
	remote   *snap.RemoteSigner
	manager  *chain.Manager
	state    *session.State
	flippers map[string]common.Address

	recorders []Recorder
	metadata  MetadataStore
	keystore  KeystoreSource
}

func New(opts Options) *Bridge {
	flippers := make(map[string]common.Address, len(opts.Flippers))
	for k, v := range opts.Flippers {
		flippers[k] = v
	}
	return &Bridge{
		client:    opts.Client,
		remote:    snap.NewRemoteSigner(opts.Client),
		manager:   chain.NewManager(opts.Client, opts.Dial),
		state:     session.New(),
		flippers:  flippers,
		recorders: opts.Recorders,
		metadata:  opts.Metadata,
		keystore:  opts.Keystore,
	}
}

func (b *Bridge) State() *session.State {
	return b.state
}

func (b *Bridge) Snapshot() session.Snapshot {
	return b.state.Snapshot()
}

// Close ends state subscriptions and releases the current provider.
func (b *Bridge) Close() {
	b.state.Update(func(tx *session.Tx) {
		tx.ClearProvider()
	})
	b.state.Close()
}

// action tracks one user-triggered workflow from start to outcome.
type action struct {
	name    string
	id      string
	start   time.Time
	address string
	detail  map[string]interface{}

	// guarded outcomes are dropped from the state when the provider generation moved on.
	guarded    bool
	generation uint64
	// provider is held open until the action ends.
	provider *chain.Provider
}

func (b *Bridge) begin(ctx context.Context, name string) (context.Context, *action) {
	ctx = meta.Begin(ctx)
	a := &action{name: name, id: pkgcommon.NewActionID(), start: time.Now()}
	meta.WithValue(ctx, meta.ActionIDKey, a.id)
	log.Ctx(ctx).Debugf("bridge - %v started", name)
	return ctx, a
}

// end records err as the session's last error and hands the outcome to the recorders.
func (b *Bridge) end(ctx context.Context, a *action, err error) error {
	if a.provider != nil {
		a.provider.Release()
		a.provider = nil
	}
	var (
		applied = true
		network string
	)
	b.state.Update(func(tx *session.Tx) {
		if a.guarded && tx.ProviderGeneration() != a.generation {
			applied = false
			return
		}
		tx.SetLastError(err)
	})
	snapshot := b.state.Snapshot()
	if snapshot.Network != nil {
		network = snapshot.Network.Name
	}

	if err != nil {
		log.Ctx(ctx).Warnf("bridge - %v(%v) failed:%v", a.name, pkgcommon.ShortAddress(a.address), err)
	} else {
		log.Ctx(ctx).Infof("bridge - %v(%v) done in %v detail:%v", a.name, pkgcommon.ShortAddress(a.address),
			time.Since(a.start), pkgcommon.MustGetJSONString(a.detail))
	}
	if !applied {
		log.Ctx(ctx).Warnf("bridge - %v finished on a replaced provider, outcome not applied", a.name)
	}

	if len(b.recorders) == 0 {
		return err
	}
	record := &database.ActionRecord{
		ActionID:   a.id,
		Action:     a.name,
		Network:    network,
		Address:    a.address,
		Success:    err == nil,
		Detail:     a.detail,
		StartedAt:  a.start,
		DurationMs: time.Since(a.start).Milliseconds(),
	}
	if err != nil {
		record.Error = err.Error()
	}
	for _, r := range b.recorders {
		r.Record(ctx, record)
	}
	return err
}
