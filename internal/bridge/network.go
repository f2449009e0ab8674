package bridge

import (
	"context"

	"moff.io/snap-bridge/internal/chain"
	"moff.io/snap-bridge/internal/session"
	"moff.io/snap-bridge/internal/snap"
	"moff.io/snap-bridge/pkg/errors"
	"moff.io/snap-bridge/pkg/log"
)

// Connect opens the plugin session, installs the snap when missing and loads network and accounts.
func (b *Bridge) Connect(ctx context.Context) (*snap.InstalledSnap, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "connect")
	installed, err := b.connect(ctx)
	return installed, b.end(ctx, a, err)
}

func (b *Bridge) connect(ctx context.Context) (*snap.InstalledSnap, error) {
	if err := b.client.Connect(ctx); err != nil {
		b.state.Update(func(tx *session.Tx) { tx.SetPlugin(nil) })
		return nil, err
	}
	installed, err := b.client.GetSnap(ctx)
	if err != nil {
		return nil, err
	}
	b.state.Update(func(tx *session.Tx) { tx.SetPlugin(installed) })
	if installed == nil {
		return nil, errors.Mark(errors.Wrap(snap.ErrSnapNotInstalled, b.client.SnapID()), snap.ErrTransportUnavailable)
	}
	log.Ctx(ctx).Infof("bridge - snap %v@%v connected", installed.ID, installed.Version)

	// accounts are loaded even when the provider could not be established
	_, netErr := b.resolveNetwork(ctx)
	_, accErr := b.refreshAccounts(ctx)
	if netErr != nil {
		return installed, netErr
	}
	return installed, accErr
}

// GetActiveNetwork asks the snap for its network. When it changed, the provider is re-established
// and the signer rebuilt; the network is returned even if that fails.
func (b *Bridge) GetActiveNetwork(ctx context.Context) (snap.Network, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "get_active_network")
	network, err := b.resolveNetwork(ctx)
	return network, b.end(ctx, a, err)
}

// SwitchNetwork toggles the snap between mainnet and testnet.
func (b *Bridge) SwitchNetwork(ctx context.Context) (snap.Network, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "switch_network")
	network, err := b.switchNetwork(ctx)
	return network, b.end(ctx, a, err)
}

// SetNetwork makes target the snap's active network.
func (b *Bridge) SetNetwork(ctx context.Context, target snap.Network) (snap.Network, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "set_network")
	network, err := b.setNetwork(ctx, target)
	return network, b.end(ctx, a, err)
}

// EnsureProvider opens a ready provider for network, or for the snap's active network when nil.
func (b *Bridge) EnsureProvider(ctx context.Context, network *snap.Network) (*chain.Provider, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "ensure_provider")
	p, err := b.ensureProvider(ctx, network)
	if err == nil {
		err = b.rebuildSigner(ctx)
	}
	return p, b.end(ctx, a, err)
}

func (b *Bridge) resolveNetwork(ctx context.Context) (snap.Network, error) {
	network, err := b.manager.GetActiveNetwork(ctx)
	if err != nil {
		return snap.Network{}, err
	}
	return network, b.applyNetwork(ctx, network)
}

func (b *Bridge) switchNetwork(ctx context.Context) (snap.Network, error) {
	snapshot := b.state.Snapshot()
	current := snapshot.Network
	if current == nil {
		n, err := b.manager.GetActiveNetwork(ctx)
		if err != nil {
			return snap.Network{}, err
		}
		current = &n
	}
	return b.setNetwork(ctx, snap.Network{Name: snap.ToggledName(current.Name)})
}

func (b *Bridge) setNetwork(ctx context.Context, target snap.Network) (snap.Network, error) {
	if target.Name != snap.NetworkMainnet && target.Name != snap.NetworkTestnet {
		return snap.Network{}, invalidInput("unknown network %q", target.Name)
	}
	network, err := b.manager.SwitchNetwork(ctx, target)
	if err != nil {
		return snap.Network{}, err
	}
	return network, b.applyNetwork(ctx, network)
}

// applyNetwork stores network and, when it differs from the stored one, re-establishes the provider.
func (b *Bridge) applyNetwork(ctx context.Context, network snap.Network) error {
	var changed bool
	b.state.Update(func(tx *session.Tx) {
		changed = tx.SetNetwork(network)
	})
	if !changed && b.state.Snapshot().Provider != nil {
		return nil
	}
	if !network.Valid() {
		return errors.Wrapf(chain.ErrProviderUnavailable, "snap reported unusable network %v", network)
	}
	if _, err := b.ensureProvider(ctx, &network); err != nil {
		return err
	}
	return b.rebuildSigner(ctx)
}

// ensureProvider never stores a provider that did not pass its readiness check. On failure the
// provider field is left unset.
func (b *Bridge) ensureProvider(ctx context.Context, network *snap.Network) (*chain.Provider, error) {
	if network == nil {
		active, err := b.manager.GetActiveNetwork(ctx)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "resolve network"), chain.ErrProviderUnavailable)
		}
		network = &active
	}
	var generation uint64
	b.state.Update(func(tx *session.Tx) {
		tx.SetNetwork(*network)
		generation = tx.ProviderGeneration()
	})

	p, err := b.manager.EnsureProvider(ctx, network)
	if err != nil {
		b.state.Update(func(tx *session.Tx) {
			if tx.ProviderGeneration() == generation {
				tx.ClearProvider()
			}
		})
		return nil, err
	}
	var applied bool
	b.state.Update(func(tx *session.Tx) {
		applied = tx.SetProvider(p, generation)
	})
	if !applied {
		return nil, errors.Wrapf(chain.ErrProviderUnavailable, "network changed while connecting to %v", network)
	}
	return p, nil
}
