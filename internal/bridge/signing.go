package bridge

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"moff.io/snap-bridge/internal/chain"
	"moff.io/snap-bridge/internal/session"
	"moff.io/snap-bridge/internal/snap"
	"moff.io/snap-bridge/pkg/errors"
	"moff.io/snap-bridge/pkg/log"
)

// BuildSigner binds the current provider, establishing one when missing, to address.
func (b *Bridge) BuildSigner(ctx context.Context, address string) (*chain.Signer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, a := b.begin(ctx, "build_signer")
	a.address = address
	signer, err := b.buildSigner(ctx, address)
	return signer, b.end(ctx, a, err)
}

// rebuildSigner keeps the signer in line with the selected account and the current provider.
func (b *Bridge) rebuildSigner(ctx context.Context) error {
	snapshot := b.state.Snapshot()
	selected := snapshot.SelectedAccount()
	if selected == nil {
		if snapshot.Signer != nil || snapshot.SignerStatus != session.SignerUnbuilt {
			b.state.Update(func(tx *session.Tx) { tx.ClearSigner() })
		}
		return nil
	}
	if snapshot.Signer != nil && snapshot.SignerStatus == session.SignerReady &&
		snapshot.Signer.Provider() == snapshot.Provider &&
		snap.SameAddress(snapshot.Signer.Address().Hex(), selected.Address) {
		return nil
	}
	_, err := b.buildSigner(ctx, selected.Address)
	return err
}

func (b *Bridge) buildSigner(ctx context.Context, address string) (*chain.Signer, error) {
	if strings.TrimSpace(address) == "" {
		return nil, invalidInput("address is required")
	}
	b.state.Update(func(tx *session.Tx) { tx.SetSignerStatus(session.SignerBuilding) })

	snapshot := b.state.Snapshot()
	provider := snapshot.Provider
	if provider == nil {
		p, err := b.ensureProvider(ctx, snapshot.Network)
		if err != nil {
			b.signerFailed()
			return nil, err
		}
		provider = p
	}
	generation := b.state.Snapshot().ProviderGeneration

	signer, err := chain.NewSigner(provider, address, b.remote)
	if err != nil {
		b.signerFailed()
		if errors.Is(err, chain.ErrInvalidAddress) {
			return nil, errors.Mark(err, ErrInvalidInput)
		}
		return nil, err
	}
	var applied bool
	b.state.Update(func(tx *session.Tx) {
		if tx.ProviderGeneration() != generation {
			return
		}
		tx.SetSigner(signer)
		applied = true
	})
	if !applied {
		return nil, errors.Wrap(chain.ErrProviderUnavailable, "provider replaced while building signer")
	}
	log.Ctx(ctx).Infof("bridge - signer ready for %v on %v", signer.Address().Hex(), provider.Network())
	return signer, nil
}

// signerFailed leaves a previously built signer stale and an absent one unbuilt.
func (b *Bridge) signerFailed() {
	b.state.Update(func(tx *session.Tx) {
		if tx.Current().Signer != nil {
			tx.SetSignerStatus(session.SignerStale)
		} else {
			tx.ClearSigner()
		}
	})
}

// readySigner returns the signer if it may be used, without touching the transport. The
// signer's provider stays open until the action ends, even if a network change retires it.
func (b *Bridge) readySigner(a *action) (*chain.Signer, error) {
	snapshot := b.state.Snapshot()
	a.guarded = true
	a.generation = snapshot.ProviderGeneration
	if snapshot.Signer == nil || snapshot.SignerStatus != session.SignerReady {
		return nil, errors.Wrapf(ErrSignerRequired, "signer is %v", snapshot.SignerStatus)
	}
	provider := snapshot.Signer.Provider()
	if !provider.Acquire() {
		return nil, errors.Wrapf(ErrSignerRequired, "provider for %v was replaced", provider.Network())
	}
	a.provider = provider
	a.address = snapshot.Signer.Address().Hex()
	return snapshot.Signer, nil
}

func (b *Bridge) flipper(signer *chain.Signer) (*chain.Flipper, error) {
	network := signer.Provider().Network().Name
	address, ok := b.flippers[network]
	if !ok || address == (common.Address{}) {
		return nil, invalidInput("no flipper contract configured for %v", network)
	}
	return chain.NewFlipper(address, signer.Provider().Backend()), nil
}

// InvokeContractMutation flips the example contract. The returned transaction has been
// accepted by the node, not necessarily mined.
func (b *Bridge) InvokeContractMutation(ctx context.Context) (*types.Transaction, error) {
	ctx, a := b.begin(ctx, "contract_mutation")
	signer, err := b.readySigner(a)
	if err != nil {
		return nil, b.end(ctx, a, err)
	}
	flipper, err := b.flipper(signer)
	if err != nil {
		return nil, b.end(ctx, a, err)
	}
	tx, err := flipper.Flip(ctx, signer)
	if err != nil {
		return nil, b.end(ctx, a, err)
	}
	a.detail = map[string]interface{}{"tx": tx.Hash().Hex(), "contract": flipper.Address().Hex()}
	// the node may not have applied tx yet, so the value read back is informational
	if value, readErr := flipper.Get(ctx, signer); readErr != nil {
		log.Ctx(ctx).Warnf("bridge - read flipper after %v:%v", tx.Hash().Hex(), readErr)
	} else {
		a.detail["value"] = value
	}
	return tx, b.end(ctx, a, nil)
}

// InvokeContractQuery reads the example contract's value.
func (b *Bridge) InvokeContractQuery(ctx context.Context) (bool, error) {
	ctx, a := b.begin(ctx, "contract_query")
	signer, err := b.readySigner(a)
	if err != nil {
		return false, b.end(ctx, a, err)
	}
	flipper, err := b.flipper(signer)
	if err != nil {
		return false, b.end(ctx, a, err)
	}
	value, err := flipper.Get(ctx, signer)
	if err == nil {
		a.detail = map[string]interface{}{"value": value}
	}
	return value, b.end(ctx, a, err)
}

// SignRawMessage has the selected account sign message. A refusal is final for this call.
func (b *Bridge) SignRawMessage(ctx context.Context, message []byte) (*snap.SignResult, error) {
	ctx, a := b.begin(ctx, "sign_raw")
	if len(message) == 0 {
		return nil, b.end(ctx, a, invalidInput("message is empty"))
	}
	signer, err := b.readySigner(a)
	if err != nil {
		return nil, b.end(ctx, a, err)
	}
	res, err := signer.SignRaw(ctx, message)
	return res, b.end(ctx, a, err)
}
