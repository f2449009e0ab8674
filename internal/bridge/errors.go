package bridge

import (
	"moff.io/snap-bridge/internal/chain"
	"moff.io/snap-bridge/internal/snap"
	"moff.io/snap-bridge/pkg/errors"
)

var (
	ErrTransportUnavailable = snap.ErrTransportUnavailable
	ErrSigningRejected      = snap.ErrSigningRejected
	ErrProviderUnavailable  = chain.ErrProviderUnavailable
	ErrContractCallFailed   = chain.ErrContractCallFailed

	// ErrInvalidInput is returned for a missing or malformed argument, before anything is sent.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSignerRequired is returned by signing operations while no ready signer exists.
	ErrSignerRequired = errors.Mark(errors.New("signer required"), ErrInvalidInput)
	// ErrAccountNotFound is returned when the store has no account with the given address.
	ErrAccountNotFound = errors.Mark(errors.New("account not found"), ErrInvalidInput)
)

func invalidInput(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidInput, format, args...)
}
