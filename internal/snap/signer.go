package snap

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"moff.io/snap-bridge/pkg/errors"
	"moff.io/snap-bridge/pkg/log"
)

// RemoteSigner delegates signatures to the snap. It keeps no state between calls.
type RemoteSigner struct {
	client *Client
}

func NewRemoteSigner(client *Client) *RemoteSigner {
	return &RemoteSigner{client: client}
}

// SignRaw signs an arbitrary message with the key of address.
func (s *RemoteSigner) SignRaw(ctx context.Context, address string, payload []byte) (*SignResult, error) {
	return s.sign(ctx, &SignRawPayload{Address: address, Data: hexutil.Encode(payload), Type: SignTypeBytes})
}

// SignDigest signs a 32 byte digest as is and returns the 65 byte [R || S || V] signature.
func (s *RemoteSigner) SignDigest(ctx context.Context, address string, digest []byte) ([]byte, error) {
	if len(digest) != common.HashLength {
		return nil, errors.Errorf("digest must be %d bytes, got %d", common.HashLength, len(digest))
	}
	res, err := s.sign(ctx, &SignRawPayload{Address: address, Data: hexutil.Encode(digest), Type: SignTypePayload})
	if err != nil {
		return nil, err
	}
	sig, err := DecodeSignature(res.Signature)
	if err != nil {
		return nil, errors.Mark(err, ErrSigningRejected)
	}
	return sig, nil
}

func (s *RemoteSigner) sign(ctx context.Context, payload *SignRawPayload) (*SignResult, error) {
	if !s.client.Connected() {
		return nil, ErrTransportUnavailable
	}
	res, err := s.client.SignRaw(ctx, payload)
	if err != nil {
		if errors.Is(err, ErrTransportUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		log.Warnf("snap - %v declined signing:%v", payload.Address, err)
		return nil, errors.Mark(err, ErrSigningRejected)
	}
	if res.Signature == "" {
		return nil, errors.Wrap(ErrSigningRejected, "empty signature")
	}
	return res, nil
}

// TxSigner adapts the snap into a bind.SignerFn for transactions sent from address on chainID.
func (s *RemoteSigner) TxSigner(ctx context.Context, address common.Address, chainID *big.Int) bind.SignerFn {
	signer := types.LatestSignerForChainID(chainID)
	return func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
		if from != address {
			return nil, bind.ErrNotAuthorized
		}
		sig, err := s.SignDigest(ctx, address.Hex(), signer.Hash(tx).Bytes())
		if err != nil {
			return nil, err
		}
		return tx.WithSignature(signer, sig)
	}
}

// DecodeSignature accepts V as 0/1 or 27/28 and normalises it to 0/1.
func DecodeSignature(signature string) ([]byte, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return nil, errors.Wrap(err, "decode signature hex")
	}
	if len(sig) != crypto.SignatureLength {
		return nil, errors.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	return sig, nil
}

// VerifyMessage reports whether signature over the snap-wrapped message was produced by address.
func VerifyMessage(address string, message []byte, signature string) bool {
	sig, err := DecodeSignature(signature)
	if err != nil {
		return false
	}
	recovered, err := crypto.SigToPub(MessageDigest(message), sig)
	if err != nil {
		return false
	}
	return SameAddress(crypto.PubkeyToAddress(*recovered).Hex(), address)
}

// MessageDigest is the digest the snap signs for SignTypeBytes requests.
func MessageDigest(message []byte) []byte {
	return accounts.TextHash(message)
}
