package snap

import (
	"fmt"

	"moff.io/snap-bridge/pkg/errors"
)

var (
	// ErrTransportUnavailable is returned when the relay session is not established or got lost.
	ErrTransportUnavailable = errors.New("snap transport unavailable")
	// ErrSigningRejected is returned when the user or the snap declines a signature.
	ErrSigningRejected = errors.New("signing rejected")
	// ErrSnapNotInstalled is returned by Connect when the wallet did not install the snap.
	ErrSnapNotInstalled = errors.New("snap not installed")
)

// Provider error codes, see EIP-1193.
const (
	CodeUserRejected = 4001
	CodeUnauthorized = 4100
	CodeDisconnected = 4900
)

// RPCError is an error object answered by the wallet or the snap.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("snap rpc error %d: %s", e.Code, e.Message)
}

// Is makes a disconnected wallet look like a missing transport.
func (e *RPCError) Is(target error) bool {
	return target == ErrTransportUnavailable && e.Code == CodeDisconnected
}

// IsUserRejected reports whether err carries the EIP-1193 user rejection code.
func IsUserRejected(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == CodeUserRejected
}
