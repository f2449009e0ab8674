package chain

import (
	"context"

	"moff.io/snap-bridge/internal/snap"
	"moff.io/snap-bridge/pkg/errors"
	"moff.io/snap-bridge/pkg/log"
)

// Manager resolves the snap's active network and opens providers for it.
// It holds no session state; callers fold its results into their own.
type Manager struct {
	client *snap.Client
	dial   DialFunc
}

func NewManager(client *snap.Client, dial DialFunc) *Manager {
	if dial == nil {
		dial = DialEthClient
	}
	return &Manager{client: client, dial: dial}
}

// GetActiveNetwork always asks the snap, a locally cached network is never trusted.
func (m *Manager) GetActiveNetwork(ctx context.Context) (snap.Network, error) {
	network, err := m.client.GetNetwork(ctx)
	if err != nil {
		return snap.Network{}, err
	}
	return m.complete(*network), nil
}

// SwitchNetwork asks the snap to sign for target and returns what the snap reports afterwards.
func (m *Manager) SwitchNetwork(ctx context.Context, target snap.Network) (snap.Network, error) {
	network, err := m.client.SetNetwork(ctx, target)
	if err != nil {
		return snap.Network{}, err
	}
	log.Infof("chain - switched network to %v", network)
	return m.complete(*network), nil
}

// EnsureProvider opens a ready Provider for network, resolving the active network when nil.
func (m *Manager) EnsureProvider(ctx context.Context, network *snap.Network) (*Provider, error) {
	if network == nil {
		active, err := m.GetActiveNetwork(ctx)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "resolve network"), ErrProviderUnavailable)
		}
		network = &active
	}
	return Connect(ctx, *network, m.dial)
}

func (m *Manager) complete(network snap.Network) snap.Network {
	if network.RpcUrl == "" {
		if n, ok := DefaultNetwork(network.Name); ok {
			log.Warnf("chain - snap reported no endpoint for %v, using %v", network.Name, n.RpcUrl)
			network.RpcUrl = n.RpcUrl
		}
	}
	return network
}
