package chain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/snap-bridge/internal/chain"
	"moff.io/snap-bridge/internal/chain/chaintest"
	"moff.io/snap-bridge/internal/snap"
	"moff.io/snap-bridge/internal/snap/snaptest"
)

const snapID = "npm:@reef-chain/snap"

var flipperAddress = common.HexToAddress("0x0000000000000000000000000000000000f11ae5")

type fixture struct {
	plugin  *snaptest.Plugin
	client  *snap.Client
	backend *chaintest.Backend
	dialer  *chaintest.Dialer
}

func newFixture(t *testing.T) *fixture {
	plugin := snaptest.New(snapID)
	client := snap.NewClient(plugin, snapID, "*")
	require.NoError(t, client.Connect(context.Background()))
	backend := chaintest.NewBackend(13939, flipperAddress)
	dialer := chaintest.NewDialer()
	dialer.Add(snaptest.TestnetURL, backend)
	return &fixture{plugin: plugin, client: client, backend: backend, dialer: dialer}
}

func TestConnectReady(t *testing.T) {
	f := newFixture(t)
	p, err := chain.Connect(context.Background(), snap.Network{Name: snap.NetworkTestnet, RpcUrl: snaptest.TestnetURL}, f.dialer.Dial)
	require.NoError(t, err)
	assert.Equal(t, int64(13939), p.ChainID().Int64())
	md := p.Metadata()
	assert.Equal(t, "13939", md.ChainID)
	assert.Equal(t, snap.NetworkTestnet, md.Network)
	assert.Equal(t, p.GenesisHash().Hex(), md.GenesisHash)

	p.Close()
	p.Close()
	assert.Equal(t, 1, f.backend.Closed())
}

func TestConnectUnreachable(t *testing.T) {
	f := newFixture(t)
	p, err := chain.Connect(context.Background(), snap.Network{Name: snap.NetworkMainnet, RpcUrl: "ws://nowhere.invalid"}, f.dialer.Dial)
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, chain.ErrProviderUnavailable))
}

func TestConnectNeverReady(t *testing.T) {
	f := newFixture(t)
	f.backend.FailReadiness(errors.New("node syncing"))
	p, err := chain.Connect(context.Background(), snap.Network{Name: snap.NetworkTestnet, RpcUrl: snaptest.TestnetURL}, f.dialer.Dial)
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, chain.ErrProviderUnavailable))
	assert.Equal(t, 1, f.backend.Closed())
}

func TestConnectInvalidNetwork(t *testing.T) {
	f := newFixture(t)
	_, err := chain.Connect(context.Background(), snap.Network{Name: "devnet", RpcUrl: snaptest.TestnetURL}, f.dialer.Dial)
	assert.True(t, errors.Is(err, chain.ErrProviderUnavailable))
	assert.Equal(t, 0, f.dialer.Dials(snaptest.TestnetURL))
}

func TestManagerEnsureProviderResolvesActiveNetwork(t *testing.T) {
	f := newFixture(t)
	m := chain.NewManager(f.client, f.dialer.Dial)
	p, err := m.EnsureProvider(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, snap.NetworkTestnet, p.Network().Name)
	assert.Equal(t, 1, f.plugin.Calls(snap.MethodGetNetwork))
}

func TestManagerSwitchNetwork(t *testing.T) {
	f := newFixture(t)
	m := chain.NewManager(f.client, f.dialer.Dial)
	n, err := m.SwitchNetwork(context.Background(), snap.Network{Name: snap.NetworkMainnet})
	require.NoError(t, err)
	assert.Equal(t, snap.Network{Name: snap.NetworkMainnet, RpcUrl: snaptest.MainnetURL}, n)

	active, err := m.GetActiveNetwork(context.Background())
	require.NoError(t, err)
	assert.Equal(t, n, active)
}

func TestManagerFillsMissingEndpoint(t *testing.T) {
	f := newFixture(t)
	f.plugin.SetNetworkURL(snap.NetworkTestnet, "")
	m := chain.NewManager(f.client, f.dialer.Dial)
	n, err := m.GetActiveNetwork(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chain.Mapping[snap.NetworkTestnet].RpcUrl, n.RpcUrl)
}

func TestFlipperFlipAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	address, err := f.client.CreateAccountWithSeed(ctx, "apple bridge canyon", "alice")
	require.NoError(t, err)

	p, err := chain.Connect(ctx, snap.Network{Name: snap.NetworkTestnet, RpcUrl: snaptest.TestnetURL}, f.dialer.Dial)
	require.NoError(t, err)
	signer, err := chain.NewSigner(p, address, snap.NewRemoteSigner(f.client))
	require.NoError(t, err)

	flipper := chain.NewFlipper(flipperAddress, p.Backend())
	value, err := flipper.Get(ctx, signer)
	require.NoError(t, err)
	assert.False(t, value)

	tx, err := flipper.Flip(ctx, signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tx.Nonce())
	require.Len(t, f.backend.Sent(), 1)

	value, err = flipper.Get(ctx, signer)
	require.NoError(t, err)
	assert.True(t, value)
}

func TestFlipperRejectedSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	address, err := f.client.CreateAccountWithSeed(ctx, "delta ember falcon", "bob")
	require.NoError(t, err)
	p, err := chain.Connect(ctx, snap.Network{Name: snap.NetworkTestnet, RpcUrl: snaptest.TestnetURL}, f.dialer.Dial)
	require.NoError(t, err)
	signer, err := chain.NewSigner(p, address, snap.NewRemoteSigner(f.client))
	require.NoError(t, err)

	f.plugin.RejectSigning(true)
	_, err = chain.NewFlipper(flipperAddress, p.Backend()).Flip(ctx, signer)
	assert.True(t, errors.Is(err, chain.ErrContractCallFailed))
	assert.True(t, errors.Is(err, snap.ErrSigningRejected))
	assert.Empty(t, f.backend.Sent())
	assert.False(t, f.backend.Value())
}

func TestFlipperMissingContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	address, err := f.client.CreateAccountWithSeed(ctx, "garden harbor island", "carol")
	require.NoError(t, err)
	p, err := chain.Connect(ctx, snap.Network{Name: snap.NetworkTestnet, RpcUrl: snaptest.TestnetURL}, f.dialer.Dial)
	require.NoError(t, err)
	signer, err := chain.NewSigner(p, address, snap.NewRemoteSigner(f.client))
	require.NoError(t, err)

	_, err = chain.NewFlipper(common.HexToAddress("0x01"), p.Backend()).Get(ctx, signer)
	assert.True(t, errors.Is(err, chain.ErrContractCallFailed))
}

func TestNewSignerRejectsBadAddress(t *testing.T) {
	f := newFixture(t)
	p, err := chain.Connect(context.Background(), snap.Network{Name: snap.NetworkTestnet, RpcUrl: snaptest.TestnetURL}, f.dialer.Dial)
	require.NoError(t, err)
	_, err = chain.NewSigner(p, "5F3sa2TJAWMqDhXG6jhV4N8ko9SxwGy8TpaNS1repo5EYjQX", snap.NewRemoteSigner(f.client))
	assert.True(t, errors.Is(err, chain.ErrInvalidAddress))
}

func TestProviderRetireWaitsForRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := chain.Connect(ctx, snap.Network{Name: snap.NetworkTestnet, RpcUrl: snaptest.TestnetURL}, f.dialer.Dial)
	require.NoError(t, err)
	signer, err := chain.NewSigner(p, "0x00000000000000000000000000000000000000aa", nil)
	require.NoError(t, err)
	flipper := chain.NewFlipper(flipperAddress, p.Backend())

	require.True(t, p.Acquire())
	require.True(t, p.Acquire())
	p.Retire()
	assert.True(t, p.Retired())
	assert.False(t, p.Acquire())
	assert.Equal(t, 0, f.backend.Closed())

	_, err = flipper.Get(ctx, signer)
	require.NoError(t, err)

	p.Release()
	assert.Equal(t, 0, f.backend.Closed())
	p.Release()
	assert.Equal(t, 1, f.backend.Closed())

	_, err = flipper.Get(ctx, signer)
	assert.True(t, errors.Is(err, rpc.ErrClientQuit))
	assert.True(t, errors.Is(err, chain.ErrContractCallFailed))
}

func TestProviderRetireIdleClosesAtOnce(t *testing.T) {
	f := newFixture(t)
	p, err := chain.Connect(context.Background(), snap.Network{Name: snap.NetworkTestnet, RpcUrl: snaptest.TestnetURL}, f.dialer.Dial)
	require.NoError(t, err)
	p.Retire()
	p.Retire()
	assert.Equal(t, 1, f.backend.Closed())
}

func TestClosedConnDoesNotAffectNewConn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	network := snap.Network{Name: snap.NetworkTestnet, RpcUrl: snaptest.TestnetURL}
	old, err := chain.Connect(ctx, network, f.dialer.Dial)
	require.NoError(t, err)
	old.Close()
	_, err = old.Backend().ChainID(ctx)
	assert.True(t, errors.Is(err, rpc.ErrClientQuit))

	fresh, err := chain.Connect(ctx, network, f.dialer.Dial)
	require.NoError(t, err)
	_, err = fresh.Backend().ChainID(ctx)
	assert.NoError(t, err)
}
