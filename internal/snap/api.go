package snap

import (
	"context"

	"github.com/tidwall/gjson"
)

// Transport is the request/response channel to the wallet extension.
type Transport interface {
	// Connect establishes the session. Calling it on a connected transport is a no-op.
	Connect(ctx context.Context) error
	Connected() bool
	// Request sends one wallet JSON-RPC call and blocks until it is answered, ctx is done or the
	// session is lost. Answered errors are returned as *RPCError.
	Request(ctx context.Context, method string, params interface{}) (gjson.Result, error)
	Close() error
}

// wallet methods forwarded by the companion page
const (
	methodGetSnaps     = "wallet_getSnaps"
	methodRequestSnaps = "wallet_requestSnaps"
	methodInvokeSnap   = "wallet_invokeSnap"
)

// capabilities exposed by the snap
const (
	MethodInitKeyring            = "initKeyring"
	MethodCreateSeed             = "createSeed"
	MethodCreateAccountWithSeed  = "createAccountWithSeed"
	MethodForgetAccount          = "forgetAccount"
	MethodListAccounts           = "listAccounts"
	MethodImportAccountsFromJSON = "importAccountsFromJson"
	MethodSelectAccount          = "selectAccount"
	MethodGetNetwork             = "getNetwork"
	MethodSetNetwork             = "setNetwork"
	MethodSignRaw                = "signRaw"
	MethodSetStore               = "setStore"
	MethodGetStore               = "getStore"
	MethodRemoveStore            = "removeStore"
	MethodClearAllStores         = "clearAllStores"
	MethodGetAllAccounts         = "getAllAccounts"
	MethodGetAllMetadatas        = "getAllMetadatas"
	MethodListMetadata           = "listMetadata"
	MethodProvideMetadata        = "provideMetadata"
)
