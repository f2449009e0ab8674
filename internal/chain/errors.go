package chain

import "moff.io/snap-bridge/pkg/errors"

var (
	// ErrProviderUnavailable is returned when an endpoint cannot be reached or never becomes ready.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrContractCallFailed is returned when a contract call reverts or cannot be delivered.
	ErrContractCallFailed = errors.New("contract call failed")
	// ErrInvalidAddress is returned for addresses that are not 20 byte hex strings.
	ErrInvalidAddress = errors.New("invalid address")
)
