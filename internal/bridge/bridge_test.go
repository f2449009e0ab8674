package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/snap-bridge/internal/bridge"
	"moff.io/snap-bridge/internal/chain/chaintest"
	"moff.io/snap-bridge/internal/database"
	"moff.io/snap-bridge/internal/session"
	"moff.io/snap-bridge/internal/snap"
	"moff.io/snap-bridge/internal/snap/snaptest"
)

const snapID = "npm:@reef-chain/snap"

var flipperAddress = common.HexToAddress("0x0000000000000000000000000000000000f11ae5")

type memRecorder struct {
	mu      sync.Mutex
	records []*database.ActionRecord
}

func (r *memRecorder) Record(ctx context.Context, record *database.ActionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func (r *memRecorder) last(action string) *database.ActionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Action == action {
			return r.records[i]
		}
	}
	return nil
}

type memMetadata struct {
	mu   sync.Mutex
	data map[string]snap.Metadata
}

func (m *memMetadata) GetMetadata(ctx context.Context, network string) (*snap.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.data[network]
	if !ok {
		return nil, nil
	}
	return &md, nil
}

func (m *memMetadata) SetMetadata(ctx context.Context, md *snap.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[md.Network] = *md
	return nil
}

type memKeystore struct {
	files    map[string]string
	password string
}

func (k *memKeystore) Keystore(ctx context.Context, key string) (json.RawMessage, error) {
	f, ok := k.files[key]
	if !ok {
		return nil, fmt.Errorf("no keystore %v", key)
	}
	return json.RawMessage(f), nil
}

func (k *memKeystore) Password(ctx context.Context) (string, error) {
	return k.password, nil
}

type fixture struct {
	plugin   *snaptest.Plugin
	dialer   *chaintest.Dialer
	testnet  *chaintest.Backend
	mainnet  *chaintest.Backend
	recorder *memRecorder
	metadata *memMetadata
	bridge   *bridge.Bridge
}

func newFixture(t *testing.T) *fixture {
	t.Setenv("DEBUG", "1")
	f := &fixture{
		plugin:   snaptest.New(snapID),
		dialer:   chaintest.NewDialer(),
		testnet:  chaintest.NewBackend(13939, flipperAddress),
		mainnet:  chaintest.NewBackend(13939, flipperAddress),
		recorder: &memRecorder{},
		metadata: &memMetadata{data: map[string]snap.Metadata{}},
	}
	f.dialer.Add(snaptest.TestnetURL, f.testnet)
	f.dialer.Add(snaptest.MainnetURL, f.mainnet)
	f.bridge = bridge.New(bridge.Options{
		Client: snap.NewClient(f.plugin, snapID, "*"),
		Dial:   f.dialer.Dial,
		Flippers: map[string]common.Address{
			snap.NetworkMainnet: flipperAddress,
			snap.NetworkTestnet: flipperAddress,
		},
		Recorders: []bridge.Recorder{f.recorder},
		Metadata:  f.metadata,
		Keystore: &memKeystore{
			files:    map[string]string{"team.json": `{"encoded":"x","accounts":[{"address":"5A"},{"address":"5B"}]}`},
			password: "hunter2",
		},
	})
	t.Cleanup(f.bridge.Close)
	return f
}

func (f *fixture) connect(t *testing.T) {
	_, err := f.bridge.Connect(context.Background())
	require.NoError(t, err)
}

func (f *fixture) createAccount(t *testing.T, seed string) string {
	address, err := f.bridge.CreateAccount(context.Background(), seed, seed)
	require.NoError(t, err)
	return address
}

func count(accounts []snap.Account, address string) int {
	n := 0
	for _, a := range accounts {
		if snap.SameAddress(a.Address, address) {
			n++
		}
	}
	return n
}

func selected(accounts []snap.Account) []string {
	var out []string
	for _, a := range accounts {
		if a.IsSelected {
			out = append(out, a.Address)
		}
	}
	return out
}

func TestConnectLoadsNetworkAndAccounts(t *testing.T) {
	f := newFixture(t)
	installed, err := f.bridge.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapID, installed.ID)

	s := f.bridge.Snapshot()
	assert.True(t, s.PluginInstalled)
	assert.True(t, s.PluginReady)
	require.NotNil(t, s.Network)
	assert.Equal(t, snap.NetworkTestnet, s.Network.Name)
	require.NotNil(t, s.Provider)
	assert.Equal(t, *s.Network, s.Provider.Network())
	assert.Empty(t, s.Accounts)
	assert.Equal(t, session.SignerUnbuilt, s.SignerStatus)
	assert.NoError(t, s.LastError)
	assert.Equal(t, 1, f.plugin.Calls(snap.MethodGetNetwork))
	assert.Equal(t, 1, f.plugin.Calls(snap.MethodListAccounts))
	assert.True(t, f.recorder.last("connect").Success)
}

func TestConnectRefused(t *testing.T) {
	f := newFixture(t)
	f.plugin.RefuseInstall(true)
	_, err := f.bridge.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, snap.IsUserRejected(err))

	s := f.bridge.Snapshot()
	assert.False(t, s.PluginInstalled)
	assert.Equal(t, err, s.LastError)
	assert.False(t, f.recorder.last("connect").Success)
}

func TestCreateAccountAppearsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")
	b := f.createAccount(t, "delta ember falcon")
	again := f.createAccount(t, "apple bridge canyon")
	assert.Equal(t, a, again)

	accounts := f.bridge.Snapshot().Accounts
	assert.Len(t, accounts, 2)
	assert.Equal(t, 1, count(accounts, a))
	assert.Equal(t, 1, count(accounts, b))
}

func TestCreateAccountWithEmptySeed(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.createAccount(t, "apple bridge canyon")
	before := f.bridge.Snapshot().Accounts
	calls := f.plugin.Calls(snap.MethodCreateAccountWithSeed)

	_, err := f.bridge.CreateAccount(context.Background(), "", "X")
	assert.True(t, errors.Is(err, bridge.ErrInvalidInput))

	s := f.bridge.Snapshot()
	assert.Equal(t, before, s.Accounts)
	assert.True(t, errors.Is(s.LastError, bridge.ErrInvalidInput))
	assert.Equal(t, calls, f.plugin.Calls(snap.MethodCreateAccountWithSeed))
}

func TestCreateSeedDoesNotCreateAccount(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	seed, err := f.bridge.CreateSeed(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, seed.Seed)
	assert.Equal(t, snaptest.AddressForSeed(seed.Seed), seed.Address)
	assert.Empty(t, f.bridge.Snapshot().Accounts)

	address := f.createAccount(t, seed.Seed)
	assert.Equal(t, seed.Address, address)
}

func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")
	b := f.createAccount(t, "delta ember falcon")

	require.NoError(t, f.bridge.DeleteAccount(context.Background(), a))
	accounts := f.bridge.Snapshot().Accounts
	assert.Equal(t, 0, count(accounts, a))
	assert.Equal(t, 1, count(accounts, b))

	err := f.bridge.DeleteAccount(context.Background(), a)
	assert.True(t, errors.Is(err, bridge.ErrAccountNotFound))
	assert.True(t, errors.Is(err, bridge.ErrInvalidInput))
	assert.Equal(t, accounts, f.bridge.Snapshot().Accounts)

	err = f.bridge.DeleteAccount(context.Background(), "")
	assert.True(t, errors.Is(err, bridge.ErrInvalidInput))
}

func TestSelectAccountLeavesExactlyOneSelected(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")
	b := f.createAccount(t, "delta ember falcon")

	require.NoError(t, f.bridge.SelectAccount(context.Background(), a))
	s := f.bridge.Snapshot()
	assert.Equal(t, []string{a}, selected(s.Accounts))
	require.NotNil(t, s.Signer)
	assert.Equal(t, a, s.Signer.Address().Hex())
	assert.Equal(t, session.SignerReady, s.SignerStatus)

	require.NoError(t, f.bridge.SelectAccount(context.Background(), b))
	s = f.bridge.Snapshot()
	assert.Equal(t, []string{b}, selected(s.Accounts))
	assert.Equal(t, b, s.Signer.Address().Hex())

	err := f.bridge.SelectAccount(context.Background(), "0x00000000000000000000000000000000000000aa")
	assert.True(t, errors.Is(err, bridge.ErrAccountNotFound))
	assert.Equal(t, b, f.bridge.Snapshot().Signer.Address().Hex())
}

func TestListAccountsBuildsSignerForSelected(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")
	f.createAccount(t, "delta ember falcon")
	f.plugin.ForceSelected(a)

	accounts, err := f.bridge.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{a}, selected(accounts))
	s := f.bridge.Snapshot()
	require.NotNil(t, s.Signer)
	assert.Equal(t, a, s.Signer.Address().Hex())
}

func TestListAccountsLastSelectedWins(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")
	b := f.createAccount(t, "delta ember falcon")
	f.plugin.ForceSelected(a, b)

	accounts, err := f.bridge.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{b}, selected(accounts))
	assert.Equal(t, b, f.bridge.Snapshot().Signer.Address().Hex())
}

func TestListAccountsFailureKeepsPreviousList(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")
	f.plugin.FailNext(snap.MethodListAccounts, &snap.RPCError{Code: -32603, Message: "store locked"})

	_, err := f.bridge.ListAccounts(context.Background())
	require.Error(t, err)
	s := f.bridge.Snapshot()
	assert.Equal(t, 1, count(s.Accounts, a))
	assert.Equal(t, err, s.LastError)

	_, err = f.bridge.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.NoError(t, f.bridge.Snapshot().LastError)
}

func TestSwitchNetworkTwiceRestoresNetwork(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	original := *f.bridge.Snapshot().Network

	switched, err := f.bridge.SwitchNetwork(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.NetworkMainnet, switched.Name)
	assert.Equal(t, switched, f.bridge.Snapshot().Provider.Network())
	assert.Equal(t, 1, f.testnet.Closed())

	back, err := f.bridge.SwitchNetwork(context.Background())
	require.NoError(t, err)
	assert.Equal(t, original, back)
	assert.Equal(t, original, *f.bridge.Snapshot().Network)
}

func TestSwitchNetworkRebuildsSigner(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")
	require.NoError(t, f.bridge.SelectAccount(context.Background(), a))

	_, err := f.bridge.SwitchNetwork(context.Background())
	require.NoError(t, err)
	s := f.bridge.Snapshot()
	assert.Equal(t, session.SignerReady, s.SignerStatus)
	assert.Equal(t, snap.NetworkMainnet, s.Signer.Provider().Network().Name)
	assert.Equal(t, a, s.Signer.Address().Hex())
}

func TestSetNetworkRejectsUnknownName(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	_, err := f.bridge.SetNetwork(context.Background(), snap.Network{Name: "devnet", RpcUrl: "ws://dev"})
	assert.True(t, errors.Is(err, bridge.ErrInvalidInput))
	assert.Equal(t, 0, f.plugin.Calls(snap.MethodSetNetwork))
}

func TestEnsureProviderWaitsForReadiness(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	p, err := f.bridge.EnsureProvider(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(13939), p.ChainID().Int64())
	assert.Same(t, p, f.bridge.Snapshot().Provider)
	assert.GreaterOrEqual(t, f.testnet.ChainIDCalls(), 2)
}

func TestEnsureProviderReadinessFailureLeavesProviderUnset(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	require.NotNil(t, f.bridge.Snapshot().Provider)
	f.testnet.FailReadiness(errors.New("node syncing"))

	p, err := f.bridge.EnsureProvider(context.Background(), nil)
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, bridge.ErrProviderUnavailable))
	s := f.bridge.Snapshot()
	assert.Nil(t, s.Provider)
	assert.True(t, errors.Is(s.LastError, bridge.ErrProviderUnavailable))
}

func TestFailedSwitchLeavesSignerStale(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")
	require.NoError(t, f.bridge.SelectAccount(context.Background(), a))
	f.plugin.SetNetworkURL(snap.NetworkMainnet, "ws://down.snaptest.invalid")

	_, err := f.bridge.SwitchNetwork(context.Background())
	assert.True(t, errors.Is(err, bridge.ErrProviderUnavailable))
	s := f.bridge.Snapshot()
	assert.Equal(t, snap.NetworkMainnet, s.Network.Name)
	assert.Nil(t, s.Provider)
	assert.Equal(t, session.SignerStale, s.SignerStatus)

	_, err = f.bridge.InvokeContractQuery(context.Background())
	assert.True(t, errors.Is(err, bridge.ErrSignerRequired))

	_, err = f.bridge.SwitchNetwork(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.SignerReady, f.bridge.Snapshot().SignerStatus)
}

func TestContractCallsRequireSigner(t *testing.T) {
	f := newFixture(t)
	_, err := f.bridge.InvokeContractMutation(context.Background())
	assert.True(t, errors.Is(err, bridge.ErrSignerRequired))
	assert.True(t, errors.Is(err, bridge.ErrInvalidInput))
	_, err = f.bridge.InvokeContractQuery(context.Background())
	assert.True(t, errors.Is(err, bridge.ErrSignerRequired))
	_, err = f.bridge.SignRawMessage(context.Background(), []byte("hello"))
	assert.True(t, errors.Is(err, bridge.ErrSignerRequired))

	assert.Equal(t, 0, f.plugin.TotalSnapCalls())
	assert.Equal(t, 0, f.plugin.Calls("wallet_invokeSnap"))
	assert.Empty(t, f.testnet.Sent())
	assert.True(t, errors.Is(f.bridge.Snapshot().LastError, bridge.ErrSignerRequired))
}

func TestContractMutationAndQuery(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")
	require.NoError(t, f.bridge.SelectAccount(context.Background(), a))

	value, err := f.bridge.InvokeContractQuery(context.Background())
	require.NoError(t, err)
	assert.False(t, value)

	tx, err := f.bridge.InvokeContractMutation(context.Background())
	require.NoError(t, err)
	require.Len(t, f.testnet.Sent(), 1)
	assert.Equal(t, tx.Hash(), f.testnet.Sent()[0].Hash())

	value, err = f.bridge.InvokeContractQuery(context.Background())
	require.NoError(t, err)
	assert.True(t, value)

	record := f.recorder.last("contract_mutation")
	require.NotNil(t, record)
	assert.True(t, record.Success)
	assert.Equal(t, a, record.Address)
	assert.Equal(t, tx.Hash().Hex(), record.Detail["tx"])
	assert.Equal(t, true, record.Detail["value"])
}

func TestContractMutationRejected(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")
	require.NoError(t, f.bridge.SelectAccount(context.Background(), a))
	f.plugin.RejectSigning(true)

	_, err := f.bridge.InvokeContractMutation(context.Background())
	assert.True(t, errors.Is(err, bridge.ErrContractCallFailed))
	assert.True(t, errors.Is(err, bridge.ErrSigningRejected))
	assert.Empty(t, f.testnet.Sent())
	assert.Equal(t, err, f.bridge.Snapshot().LastError)
}

func TestContractCallFailureSurfacesCause(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")
	require.NoError(t, f.bridge.SelectAccount(context.Background(), a))
	f.testnet.FailSend(errors.New("insufficient funds for gas"))

	_, err := f.bridge.InvokeContractMutation(context.Background())
	assert.True(t, errors.Is(err, bridge.ErrContractCallFailed))
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestInFlightCallOnReplacedProviderIsNotApplied(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")
	require.NoError(t, f.bridge.SelectAccount(context.Background(), a))
	f.plugin.SetNetworkURL(snap.NetworkMainnet, "ws://down.snaptest.invalid")

	var (
		switchErr    error
		closedInside int
	)
	f.testnet.BeforeSend(func() {
		_, switchErr = f.bridge.SwitchNetwork(context.Background())
		closedInside = f.testnet.Closed()
	})
	tx, err := f.bridge.InvokeContractMutation(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, tx)
	require.Len(t, f.testnet.Sent(), 1)

	require.Error(t, switchErr)
	assert.Equal(t, 0, closedInside)
	assert.Equal(t, 1, f.testnet.Closed())
	assert.Equal(t, switchErr, f.bridge.Snapshot().LastError)
	assert.True(t, f.recorder.last("contract_mutation").Success)
}

func TestInFlightQueryOnReplacedProviderCompletes(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")
	require.NoError(t, f.bridge.SelectAccount(context.Background(), a))

	var switchErr error
	f.testnet.BeforeCall(func() {
		_, switchErr = f.bridge.SwitchNetwork(context.Background())
	})
	value, err := f.bridge.InvokeContractQuery(context.Background())
	require.NoError(t, err)
	assert.False(t, value)
	require.NoError(t, switchErr)

	snapshot := f.bridge.Snapshot()
	assert.Equal(t, snap.NetworkMainnet, snapshot.Network.Name)
	assert.Equal(t, session.SignerReady, snapshot.SignerStatus)
	assert.NoError(t, snapshot.LastError)
	assert.Equal(t, 1, f.testnet.Closed())

	// the signer moved to mainnet
	_, err = f.bridge.InvokeContractMutation(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.mainnet.Sent(), 1)
	assert.Empty(t, f.testnet.Sent())
}

func TestSignRawMessage(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")
	require.NoError(t, f.bridge.SelectAccount(context.Background(), a))

	msg := []byte("hello reef")
	res, err := f.bridge.SignRawMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, snap.VerifyMessage(a, msg, res.Signature))

	_, err = f.bridge.SignRawMessage(context.Background(), nil)
	assert.True(t, errors.Is(err, bridge.ErrInvalidInput))

	f.plugin.RejectSigning(true)
	_, err = f.bridge.SignRawMessage(context.Background(), msg)
	assert.True(t, errors.Is(err, bridge.ErrSigningRejected))
	// a rejection is not retried
	assert.Equal(t, 2, f.plugin.Calls(snap.MethodSignRaw))
}

func TestStorePassthroughs(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	ctx := context.Background()
	a := f.createAccount(t, "apple bridge canyon")

	_, err := f.bridge.SetStore(ctx, a)
	require.NoError(t, err)
	got, err := f.bridge.GetStore(ctx, a)
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"address":%q,"network":"testnet"}`, a), string(got))

	_, err = f.bridge.RemoveStore(ctx, a)
	require.NoError(t, err)
	got, err = f.bridge.GetStore(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "null", string(got))

	_, err = f.bridge.SetStore(ctx, "")
	assert.True(t, errors.Is(err, bridge.ErrInvalidInput))

	_, err = f.bridge.ClearStores(ctx)
	require.NoError(t, err)

	all, err := f.bridge.GetAllAccounts(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(all), a)
}

func TestUpdateMetadataProvidesOnce(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	ctx := context.Background()

	md, err := f.bridge.UpdateMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "13939", md.ChainID)
	assert.Equal(t, snap.NetworkTestnet, md.Network)

	_, err = f.bridge.UpdateMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.plugin.Calls(snap.MethodProvideMetadata))

	list, err := f.bridge.ListMetadata(ctx)
	require.NoError(t, err)
	var entries []snap.Metadata
	require.NoError(t, json.Unmarshal(list, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, *md, entries[0])

	all, err := f.bridge.GetAllMetadata(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, string(list), string(all))
}

func TestImportAccounts(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	ctx := context.Background()

	_, err := f.bridge.ImportAccountsFromKeystore(ctx, "team.json")
	require.NoError(t, err)
	assert.Len(t, f.bridge.Snapshot().Accounts, 2)

	_, err = f.bridge.ImportAccountsFromJSON(ctx, json.RawMessage(`{"accounts":[]}`), "")
	assert.True(t, errors.Is(err, bridge.ErrInvalidInput))
	_, err = f.bridge.ImportAccountsFromJSON(ctx, json.RawMessage(`not json`), "pw")
	assert.True(t, errors.Is(err, bridge.ErrInvalidInput))
	_, err = f.bridge.ImportAccountsFromKeystore(ctx, "missing.json")
	assert.Error(t, err)
	assert.Equal(t, 1, f.plugin.Calls(snap.MethodImportAccountsFromJSON))
}

func TestInitKeyring(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	require.NoError(t, f.bridge.InitKeyring(context.Background()))
	assert.Equal(t, 1, f.plugin.Calls(snap.MethodInitKeyring))
}

func TestConcurrentCreatesAreSerialised(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	var wg sync.WaitGroup
	addresses := make([]string, 8)
	for i := range addresses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			address, err := f.bridge.CreateAccount(context.Background(), fmt.Sprintf("seed number %d", i), "")
			assert.NoError(t, err)
			addresses[i] = address
		}(i)
	}
	wg.Wait()

	accounts := f.bridge.Snapshot().Accounts
	assert.Len(t, accounts, len(addresses))
	for _, address := range addresses {
		assert.Equal(t, 1, count(accounts, address))
	}
}

func TestStateSubscriptionSeesSelection(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	a := f.createAccount(t, "apple bridge canyon")

	ch := make(chan session.Field, 16)
	sub := f.bridge.State().Subscribe(ch)
	defer sub.Unsubscribe()
	done := make(chan session.Field)
	go func() {
		var all session.Field
		for field := range ch {
			all |= field
			if all.Has(session.FieldSigner) && all.Has(session.FieldAccounts) {
				done <- all
				return
			}
		}
	}()

	require.NoError(t, f.bridge.SelectAccount(context.Background(), a))
	all := <-done
	assert.False(t, all.Has(session.FieldNetwork))
	assert.Equal(t, session.SignerReady, f.bridge.Snapshot().SignerStatus)
}
