package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"moff.io/snap-bridge/internal/snap"
	"moff.io/snap-bridge/pkg/errors"
	"moff.io/snap-bridge/pkg/log"
)

// Backend is the part of an RPC client the bridge relies on; *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// DialFunc opens a Backend for an endpoint.
type DialFunc func(ctx context.Context, rpcURL string) (Backend, error)

// DialEthClient dials rpcURL (ws, http or ipc) with go-ethereum's client.
func DialEthClient(ctx context.Context, rpcURL string) (Backend, error) {
	c, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(c), nil
}

// Provider is a Backend bound to one Network that completed its readiness check.
type Provider struct {
	backend     Backend
	network     snap.Network
	chainID     *big.Int
	genesisHash common.Hash

	mu        sync.Mutex
	refs      int
	retired   bool
	closeOnce sync.Once
}

// Connect dials network and blocks until the endpoint answered its chain id and genesis header.
// No Provider is returned unless both succeeded.
func Connect(ctx context.Context, network snap.Network, dial DialFunc) (*Provider, error) {
	if !network.Valid() {
		return nil, errors.Wrapf(ErrProviderUnavailable, "invalid network %v", network)
	}
	backend, err := dial(ctx, network.RpcUrl)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "dial %v", network.RpcUrl), ErrProviderUnavailable)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		backend.Close()
		return nil, errors.Mark(errors.Wrapf(err, "%v not ready", network.RpcUrl), ErrProviderUnavailable)
	}
	genesis, err := backend.HeaderByNumber(ctx, big.NewInt(0))
	if err != nil {
		backend.Close()
		return nil, errors.Mark(errors.Wrapf(err, "%v genesis", network.RpcUrl), ErrProviderUnavailable)
	}
	log.Infof("chain - provider ready on %v, chain id %v", network, chainID)
	return &Provider{
		backend:     backend,
		network:     network,
		chainID:     chainID,
		genesisHash: genesis.Hash(),
	}, nil
}

func (p *Provider) Backend() Backend {
	return p.backend
}

func (p *Provider) Network() snap.Network {
	return p.network
}

func (p *Provider) ChainID() *big.Int {
	return new(big.Int).Set(p.chainID)
}

func (p *Provider) GenesisHash() common.Hash {
	return p.genesisHash
}

// Metadata describes the provider's chain in the form the snap stores.
func (p *Provider) Metadata() *snap.Metadata {
	return &snap.Metadata{
		Network:     p.network.Name,
		ChainID:     p.chainID.String(),
		GenesisHash: p.genesisHash.Hex(),
		RpcUrl:      p.network.RpcUrl,
	}
}

// Acquire pins the backend open for one call. It fails once the provider was retired;
// every successful Acquire must be paired with Release.
func (p *Provider) Acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retired {
		return false
	}
	p.refs++
	return true
}

// Release drops a reference taken by Acquire, closing a retired provider on the last one.
func (p *Provider) Release() {
	p.mu.Lock()
	p.refs--
	idle := p.retired && p.refs <= 0
	p.mu.Unlock()
	if idle {
		p.Close()
	}
}

// Retire refuses new references and closes the backend once in-flight calls released theirs.
func (p *Provider) Retire() {
	p.mu.Lock()
	if p.retired {
		p.mu.Unlock()
		return
	}
	p.retired = true
	idle := p.refs <= 0
	p.mu.Unlock()
	if idle {
		p.Close()
	} else {
		log.Debugf("chain - provider on %v retired with calls in flight", p.network)
	}
}

// Retired reports whether Retire was called.
func (p *Provider) Retired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retired
}

// Close shuts the backend down regardless of references. It is safe to call more than once.
func (p *Provider) Close() {
	p.closeOnce.Do(p.backend.Close)
}
