package snap

import (
	"context"
	"encoding/json"

	"github.com/fatih/structs"
	"github.com/tidwall/gjson"
	"moff.io/snap-bridge/pkg/errors"
	"moff.io/snap-bridge/pkg/log"
)

// Client invokes the snap capabilities through a Transport.
type Client struct {
	transport Transport
	snapID    string
	version   string
}

func NewClient(transport Transport, snapID, version string) *Client {
	if version == "" {
		version = "*"
	}
	return &Client{transport: transport, snapID: snapID, version: version}
}

func (c *Client) SnapID() string {
	return c.snapID
}

func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// Connect opens the transport and asks the wallet to install (or reconnect) the snap.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	params := map[string]interface{}{
		c.snapID: map[string]interface{}{"version": c.version},
	}
	if _, err := c.transport.Request(ctx, methodRequestSnaps, params); err != nil {
		return errors.Wrap(err, "request snap")
	}
	return nil
}

// GetSnap returns the installed snap or nil when the wallet does not have it.
func (c *Client) GetSnap(ctx context.Context) (*InstalledSnap, error) {
	res, err := c.transport.Request(ctx, methodGetSnaps, nil)
	if err != nil {
		return nil, errors.Wrap(err, "get snaps")
	}
	entry, ok := res.Map()[c.snapID]
	if !ok {
		return nil, nil
	}
	var installed InstalledSnap
	if err := json.Unmarshal([]byte(entry.Raw), &installed); err != nil {
		return nil, errors.Wrap(err, "decode installed snap")
	}
	if installed.ID == "" {
		installed.ID = c.snapID
	}
	return &installed, nil
}

// Invoke calls one snap capability and returns its raw result.
func (c *Client) Invoke(ctx context.Context, method string, params interface{}) (gjson.Result, error) {
	request := map[string]interface{}{"method": method}
	if params != nil {
		request["params"] = params
	}
	res, err := c.transport.Request(ctx, methodInvokeSnap, map[string]interface{}{
		"snapId":  c.snapID,
		"request": request,
	})
	if err != nil {
		log.Debugf("snap - %v failed:%v", method, err)
		return gjson.Result{}, errors.Wrapf(err, "invoke %v", method)
	}
	return res, nil
}

func (c *Client) invokeInto(ctx context.Context, method string, params interface{}, out interface{}) error {
	res, err := c.Invoke(ctx, method, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(res.Raw), out); err != nil {
		return errors.Wrapf(err, "decode %v result", method)
	}
	return nil
}

func (c *Client) InitKeyring(ctx context.Context) error {
	_, err := c.Invoke(ctx, MethodInitKeyring, nil)
	return err
}

func (c *Client) CreateSeed(ctx context.Context) (*Seed, error) {
	var seed Seed
	if err := c.invokeInto(ctx, MethodCreateSeed, nil, &seed); err != nil {
		return nil, err
	}
	return &seed, nil
}

type createAccountParams struct {
	Seed string `structs:"seed"`
	Name string `structs:"name"`
}

// CreateAccountWithSeed returns the address of the created account.
func (c *Client) CreateAccountWithSeed(ctx context.Context, seed, name string) (string, error) {
	res, err := c.Invoke(ctx, MethodCreateAccountWithSeed, structs.Map(&createAccountParams{Seed: seed, Name: name}))
	if err != nil {
		return "", err
	}
	if addr := res.Get("address"); addr.Exists() {
		return addr.String(), nil
	}
	return res.String(), nil
}

type addressParams struct {
	Address string `structs:"address"`
}

func (c *Client) ForgetAccount(ctx context.Context, address string) error {
	_, err := c.Invoke(ctx, MethodForgetAccount, structs.Map(&addressParams{Address: address}))
	return err
}

func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	accounts := make([]Account, 0)
	if err := c.invokeInto(ctx, MethodListAccounts, nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

type importParams struct {
	JSON     json.RawMessage `structs:"json"`
	Password string          `structs:"password"`
}

// ImportAccountsFromJSON imports a batch-pkcs8 keystore export.
func (c *Client) ImportAccountsFromJSON(ctx context.Context, keystore json.RawMessage, password string) (gjson.Result, error) {
	return c.Invoke(ctx, MethodImportAccountsFromJSON, structs.Map(&importParams{JSON: keystore, Password: password}))
}

type selectParams struct {
	AddressSelect string `structs:"addressSelect"`
}

func (c *Client) SelectAccount(ctx context.Context, address string) error {
	_, err := c.Invoke(ctx, MethodSelectAccount, structs.Map(&selectParams{AddressSelect: address}))
	return err
}

func (c *Client) GetNetwork(ctx context.Context) (*Network, error) {
	var n Network
	if err := c.invokeInto(ctx, MethodGetNetwork, nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

type setNetworkParams struct {
	Network string `structs:"network"`
	RpcUrl  string `structs:"rpcUrl,omitempty"`
}

// SetNetwork persists target as the active network and returns what the snap stored.
func (c *Client) SetNetwork(ctx context.Context, target Network) (*Network, error) {
	var n Network
	if err := c.invokeInto(ctx, MethodSetNetwork, structs.Map(&setNetworkParams{Network: target.Name, RpcUrl: target.RpcUrl}), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) SignRaw(ctx context.Context, payload *SignRawPayload) (*SignResult, error) {
	var res SignResult
	if err := c.invokeInto(ctx, MethodSignRaw, structs.Map(payload), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) SetStore(ctx context.Context, key string) (gjson.Result, error) {
	return c.Invoke(ctx, MethodSetStore, structs.Map(&addressParams{Address: key}))
}

func (c *Client) GetStore(ctx context.Context, key string) (gjson.Result, error) {
	return c.Invoke(ctx, MethodGetStore, structs.Map(&addressParams{Address: key}))
}

func (c *Client) RemoveStore(ctx context.Context, key string) (gjson.Result, error) {
	return c.Invoke(ctx, MethodRemoveStore, structs.Map(&addressParams{Address: key}))
}

func (c *Client) ClearAllStores(ctx context.Context) (gjson.Result, error) {
	return c.Invoke(ctx, MethodClearAllStores, nil)
}

func (c *Client) GetAllAccounts(ctx context.Context) (gjson.Result, error) {
	return c.Invoke(ctx, MethodGetAllAccounts, nil)
}

func (c *Client) GetAllMetadatas(ctx context.Context) (gjson.Result, error) {
	return c.Invoke(ctx, MethodGetAllMetadatas, nil)
}

func (c *Client) ListMetadata(ctx context.Context) (gjson.Result, error) {
	return c.Invoke(ctx, MethodListMetadata, nil)
}

func (c *Client) ProvideMetadata(ctx context.Context, metadata *Metadata) (gjson.Result, error) {
	return c.Invoke(ctx, MethodProvideMetadata, structs.Map(metadata))
}
