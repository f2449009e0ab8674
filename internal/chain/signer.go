package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"moff.io/snap-bridge/internal/snap"
	"moff.io/snap-bridge/pkg/errors"
)

// Signer binds a ready Provider to one address whose key lives in the snap.
type Signer struct {
	provider *Provider
	address  common.Address
	remote   *snap.RemoteSigner
}

func NewSigner(provider *Provider, address string, remote *snap.RemoteSigner) (*Signer, error) {
	if provider == nil {
		return nil, errors.Wrap(ErrProviderUnavailable, "signer needs a provider")
	}
	if !common.IsHexAddress(address) {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q", address)
	}
	return &Signer{provider: provider, address: common.HexToAddress(address), remote: remote}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

func (s *Signer) Provider() *Provider {
	return s.provider
}

// TransactOpts authorises transactions through the snap.
func (s *Signer) TransactOpts(ctx context.Context) *bind.TransactOpts {
	return &bind.TransactOpts{
		From:    s.address,
		Signer:  s.remote.TxSigner(ctx, s.address, s.provider.ChainID()),
		Context: ctx,
	}
}

func (s *Signer) CallOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{From: s.address, Context: ctx}
}

// SignRaw signs an arbitrary message with the signer's key.
func (s *Signer) SignRaw(ctx context.Context, payload []byte) (*snap.SignResult, error) {
	return s.remote.SignRaw(ctx, s.address.Hex(), payload)
}
