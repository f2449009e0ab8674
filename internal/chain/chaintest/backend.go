// Package chaintest provides an in-memory chain that hosts a flipper contract, for tests.
package chaintest

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"moff.io/snap-bridge/internal/chain"
)

var (
	flipSelector = crypto.Keccak256([]byte("flip()"))[:4]
	getSelector  = crypto.Keccak256([]byte("get()"))[:4]
	genesis      = &types.Header{Number: big.NewInt(0), Difficulty: big.NewInt(1), Extra: []byte("snaptest")}
)

// Backend implements chain.Backend with a single flipper contract deployed at Flipper.
type Backend struct {
	mu       sync.Mutex
	chainID  *big.Int
	flipper  common.Address
	value    bool
	nonces   map[common.Address]uint64
	sent     []*types.Transaction
	readyErr error
	sendErr  error
	hook     func()
	callHook func()
	closed   int
	chainIDs int
}

func NewBackend(chainID int64, flipper common.Address) *Backend {
	return &Backend{
		chainID: big.NewInt(chainID),
		flipper: flipper,
		nonces:  map[common.Address]uint64{},
	}
}

// FailReadiness makes ChainID return err, nil restores it.
func (b *Backend) FailReadiness(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readyErr = err
}

// FailSend makes every SendTransaction return err, nil restores it.
func (b *Backend) FailSend(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErr = err
}

func (b *Backend) Value() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

func (b *Backend) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) ChainIDCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chainIDs
}

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chainIDs++
	if b.readyErr != nil {
		return nil, b.readyErr
	}
	return new(big.Int).Set(b.chainID), nil
}

func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
}

func (b *Backend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return b.code(contract), nil
}

func (b *Backend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return b.code(account), nil
}

func (b *Backend) code(addr common.Address) []byte {
	if addr == b.flipper {
		return []byte{0x60, 0x80}
	}
	return nil
}

func (b *Backend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.takeHook(&b.callHook)
	return b.call(call)
}

func (b *Backend) call(call ethereum.CallMsg) ([]byte, error) {
	if call.To == nil || *call.To != b.flipper {
		return nil, nil
	}
	if !bytes.HasPrefix(call.Data, getSelector) {
		return nil, fmt.Errorf("execution reverted")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, 32)
	if b.value {
		out[31] = 1
	}
	return out, nil
}

// HeaderByNumber has no base fee, so bound contracts build legacy transactions.
func (b *Backend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if number != nil && number.Sign() == 0 {
		return types.CopyHeader(genesis), nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return &types.Header{Number: big.NewInt(int64(len(b.sent) + 1)), Difficulty: big.NewInt(1), ParentHash: genesis.Hash()}, nil
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (b *Backend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (b *Backend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 30000, nil
}

// BeforeSend runs fn once, at the start of the next SendTransaction, outside the backend lock.
func (b *Backend) BeforeSend(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = fn
}

// BeforeCall runs fn once, at the start of the next CallContract, outside the backend lock.
func (b *Backend) BeforeCall(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callHook = fn
}

func (b *Backend) takeHook(hook *func()) {
	b.mu.Lock()
	fn := *hook
	*hook = nil
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SendTransaction checks the signature against the chain id and applies flip() calls.
func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.takeHook(&b.hook)
	return b.send(tx)
}

func (b *Backend) send(tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	from, err := types.Sender(types.LatestSignerForChainID(b.chainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if tx.Nonce() != b.nonces[from] {
		return fmt.Errorf("nonce too low")
	}
	b.nonces[from]++
	b.sent = append(b.sent, tx)
	if tx.To() != nil && *tx.To() == b.flipper && bytes.HasPrefix(tx.Data(), flipSelector) {
		b.value = !b.value
	}
	return nil
}

func (b *Backend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (b *Backend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, fmt.Errorf("subscriptions are not supported")
}

// Dialer serves the backends keyed by endpoint; unknown endpoints fail to dial.
type Dialer struct {
	mu       sync.Mutex
	backends map[string]*Backend
	dials    map[string]int
}

func NewDialer() *Dialer {
	return &Dialer{backends: map[string]*Backend{}, dials: map[string]int{}}
}

func (d *Dialer) Add(rpcURL string, b *Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backends[rpcURL] = b
}

func (d *Dialer) Dials(rpcURL string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[rpcURL]
}

// Dial opens a new Conn to the backend registered for rpcURL.
func (d *Dialer) Dial(ctx context.Context, rpcURL string) (chain.Backend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[rpcURL]++
	b, ok := d.backends[rpcURL]
	if !ok {
		return nil, fmt.Errorf("dial %v: connection refused", rpcURL)
	}
	return &Conn{backend: b}, nil
}

// Conn is one client connection to a Backend. Like an rpc client, it fails every call
// with rpc.ErrClientQuit once closed; the Backend and other connections are unaffected.
type Conn struct {
	backend *Backend
	mu      sync.Mutex
	closed  bool
}

func (c *Conn) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return rpc.ErrClientQuit
	}
	return nil
}

// Close counts towards the backend's Closed.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.backend.Close()
}

func (c *Conn) ChainID(ctx context.Context) (*big.Int, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.backend.ChainID(ctx)
}

func (c *Conn) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.backend.CodeAt(ctx, contract, blockNumber)
}

func (c *Conn) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.backend.PendingCodeAt(ctx, account)
}

// CallContract runs the BeforeCall hook first, so a hook that closes c fails the call.
func (c *Conn) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.backend.takeHook(&c.backend.callHook)
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.backend.call(call)
}

func (c *Conn) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.backend.HeaderByNumber(ctx, number)
}

func (c *Conn) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.backend.PendingNonceAt(ctx, account)
}

func (c *Conn) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.backend.SuggestGasPrice(ctx)
}

func (c *Conn) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.backend.SuggestGasTipCap(ctx)
}

func (c *Conn) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.backend.EstimateGas(ctx, call)
}

// SendTransaction runs the BeforeSend hook first, so a hook that closes c fails the send.
func (c *Conn) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.backend.takeHook(&c.backend.hook)
	if err := c.check(); err != nil {
		return err
	}
	return c.backend.send(tx)
}

func (c *Conn) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.backend.FilterLogs(ctx, query)
}

func (c *Conn) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.backend.SubscribeFilterLogs(ctx, query, ch)
}
