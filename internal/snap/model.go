package snap

import (
	"encoding/json"
	"fmt"
	"strings"

	"moff.io/snap-bridge/pkg/errors"
)

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

// Network is the chain environment the snap currently signs for.
type Network struct {
	Name   string `json:"name"`
	RpcUrl string `json:"rpcUrl"`
}

// Valid reports whether n names a known network and carries an endpoint.
func (n Network) Valid() bool {
	return (n.Name == NetworkMainnet || n.Name == NetworkTestnet) && n.RpcUrl != ""
}

func (n Network) String() string {
	return fmt.Sprintf("%s(%s)", n.Name, n.RpcUrl)
}

// ToggledName returns the other member of {mainnet, testnet}.
func ToggledName(name string) string {
	if name == NetworkTestnet {
		return NetworkMainnet
	}
	return NetworkTestnet
}

// Account is an entry of the snap's account store.
type Account struct {
	Address    string `json:"address"`
	Name       string `json:"name"`
	IsSelected bool   `json:"isSelected"`
}

func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

// InstalledSnap is the snap entry returned by wallet_getSnaps.
type InstalledSnap struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Enabled bool   `json:"enabled"`
	Blocked bool   `json:"blocked"`
}

// Seed is a freshly generated mnemonic and the address it derives.
type Seed struct {
	Address string `json:"address"`
	Seed    string `json:"seed"`
}

const (
	// SignTypeBytes asks the snap to sign an arbitrary message, wrapped the way the snap wraps messages.
	SignTypeBytes = "bytes"
	// SignTypePayload asks the snap to sign a 32 byte digest as is.
	SignTypePayload = "payload"
)

type SignRawPayload struct {
	Address string `json:"address" structs:"address"`
	Data    string `json:"data" structs:"data"`
	Type    string `json:"type" structs:"type"`
}

// SignResult is the snap answer to signRaw.
type SignResult struct {
	ID        int64  `json:"id"`
	Signature string `json:"signature"`
}

// Metadata describes a chain so the snap can decode what it signs for it.
type Metadata struct {
	Network     string `json:"network" structs:"network"`
	ChainID     string `json:"chainId" structs:"chainId"`
	GenesisHash string `json:"genesisHash" structs:"genesisHash"`
	RpcUrl      string `json:"rpcUrl" structs:"rpcUrl"`
	SpecVersion uint64 `json:"specVersion" structs:"specVersion"`
}

// relay frames

type relayMessage struct {
	Topic string `json:"topic"`
	// pub sub ack
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

func newRelayMessageFromBytes(data []byte) (*relayMessage, error) {
	var msg relayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "unmarshal relay message")
	}
	return &msg, nil
}

func (msg *relayMessage) Marshal() []byte {
	bytes, _ := json.Marshal(msg)
	return bytes
}

type jsonRpcRequest struct {
	Id      int64       `json:"id"`
	JSONRpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

func newJSONRpcRequest(id int64, method string, params interface{}) *jsonRpcRequest {
	return &jsonRpcRequest{
		Id:      id,
		JSONRpc: "2.0",
		Method:  method,
		Params:  params,
	}
}

func (e *jsonRpcRequest) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
