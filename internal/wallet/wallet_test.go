package wallet

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/go-elements/network"
	"github.com/vulpemventures/go-elements/pset"
	"github.com/vulpemventures/go-elements/transaction"

	"github.com/liquidtools/walletd/internal/domain"
	"github.com/liquidtools/walletd/pkg/bufferutil"
	"github.com/liquidtools/walletd/pkg/electrum"
	"github.com/liquidtools/walletd/pkg/keyring"
	"github.com/liquidtools/walletd/pkg/securestore"
)

const (
	testMnemonic = "letter advice cage absurd amount doctor acoustic avoid " +
		"letter advice cage absurd amount doctor acoustic avoid letter always"
	testPassphrase = "correct horse battery staple"
	coinbaseTxID   = "1111111111111111111111111111111111111111111111111111111111111111"
)

// cheap KDF, only for tests
var testScryptParams = securestore.ScryptParams{N: 1 << 12, R: 8, P: 1}

type mockClient struct {
	mtx stdsync.Mutex

	histories   map[string][]electrum.HistoryItem
	txs         map[string]string
	blockHashes map[uint32]string
	tip         electrum.Tip
	broadcasted []string
	onGetTip    func()
}

func newMockClient() *mockClient {
	return &mockClient{
		histories:   map[string][]electrum.HistoryItem{},
		txs:         map[string]string{},
		blockHashes: map[uint32]string{},
		tip:         electrum.Tip{Height: 102, Hash: "bh102"},
	}
}

func (m *mockClient) SubscribeScripthash(
	_ context.Context, scripthash string,
) (string, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return electrum.StatusHash(m.histories[scripthash]), nil
}

func (m *mockClient) GetHistory(
	_ context.Context, scripthash string,
) ([]electrum.HistoryItem, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	history := make([]electrum.HistoryItem, len(m.histories[scripthash]))
	copy(history, m.histories[scripthash])
	return history, nil
}

func (m *mockClient) GetTransaction(
	_ context.Context, txid string,
) (string, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	txHex, ok := m.txs[txid]
	if !ok {
		return "", errors.New("transaction not found")
	}
	return txHex, nil
}

func (m *mockClient) GetBlockHash(
	_ context.Context, height uint32,
) (string, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	hash, ok := m.blockHashes[height]
	if !ok {
		return "", errors.New("height out of range")
	}
	return hash, nil
}

func (m *mockClient) GetTip(_ context.Context) (*electrum.Tip, error) {
	if m.onGetTip != nil {
		m.onGetTip()
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	tip := m.tip
	return &tip, nil
}

func (m *mockClient) Broadcast(_ context.Context, txHex string) (string, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.broadcasted = append(m.broadcasted, txHex)
	tx, err := transaction.NewTxFromHex(txHex)
	if err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

func newTestStore(t *testing.T) *securestore.Store {
	store, err := securestore.NewStore(t.TempDir(), "wallet.sealed", testScryptParams)
	require.NoError(t, err)
	return store
}

func testOptions() Options {
	return Options{Network: &network.Regtest, GapLimit: 3}
}

// fundWallet pays 100000 sats to the wallet's first external address and
// registers the transaction as confirmed at height 101 on the mock server.
func fundWallet(t *testing.T, m *mockClient, w *Wallet) string {
	info, err := w.book.AddressAt(keyring.ExternalChain, 0)
	require.NoError(t, err)

	asset, err := bufferutil.AssetHashToBytes(network.Regtest.AssetID)
	require.NoError(t, err)
	value, err := bufferutil.ValueToBytes(100000)
	require.NoError(t, err)

	prevHash, err := bufferutil.TxIDToBytes(coinbaseTxID)
	require.NoError(t, err)
	input := transaction.NewTxInput(prevHash, 0)
	output := transaction.NewTxOutput(asset, value, info.Script)

	ptx, err := pset.New(
		[]*transaction.TxInput{input}, []*transaction.TxOutput{output}, 2, 0,
	)
	require.NoError(t, err)
	txHex, err := ptx.UnsignedTx.ToHex()
	require.NoError(t, err)
	txid := ptx.UnsignedTx.TxHash().String()

	scripthash := electrum.ScriptHash(info.Script)
	m.histories[scripthash] = []electrum.HistoryItem{{TxID: txid, Height: 101}}
	m.txs[txid] = txHex
	m.blockHashes[101] = "bh101"
	return txid
}

func TestInitializeAndOpen(t *testing.T) {
	store := newTestStore(t)
	client := newMockClient()

	w, err := Initialize(
		store, client, testMnemonic, []byte(testPassphrase), testOptions(),
	)
	require.NoError(t, err)
	assert.True(t, store.Exists())
	assert.Empty(t, w.Balance())

	// a second init over the same store must fail
	_, err = Initialize(
		store, client, testMnemonic, []byte(testPassphrase), testOptions(),
	)
	assert.ErrorIs(t, err, ErrWalletAlreadyInitialized)

	firstAddr, err := w.NewAddress()
	require.NoError(t, err)
	w.Close()

	_, err = w.NewAddress()
	assert.ErrorIs(t, err, ErrWalletClosed)

	// reopening restores the address counters
	reopened, err := Open(store, client, []byte(testPassphrase), testOptions())
	require.NoError(t, err)
	defer reopened.Close()

	secondAddr, err := reopened.NewAddress()
	require.NoError(t, err)
	assert.NotEqual(t, firstAddr, secondAddr)
}

func TestInitializeFailingValidation(t *testing.T) {
	store := newTestStore(t)
	client := newMockClient()

	_, err := Initialize(
		store, client, "not a valid mnemonic", []byte(testPassphrase),
		testOptions(),
	)
	assert.ErrorIs(t, err, keyring.ErrInvalidMnemonic)
}

func TestOpenFailures(t *testing.T) {
	store := newTestStore(t)
	client := newMockClient()

	_, err := Open(store, client, []byte(testPassphrase), testOptions())
	assert.ErrorIs(t, err, securestore.ErrStoreNotFound)

	w, err := Initialize(
		store, client, testMnemonic, []byte(testPassphrase), testOptions(),
	)
	require.NoError(t, err)
	w.Close()

	_, err = Open(store, client, []byte("wrong passphrase"), testOptions())
	assert.ErrorIs(t, err, securestore.ErrAuthenticationFailed)

	_, err = Open(store, client, []byte(testPassphrase), Options{
		Network: &network.Testnet,
	})
	assert.ErrorIs(t, err, ErrNetworkMismatch)
}

func TestNewAddressesAreDistinct(t *testing.T) {
	store := newTestStore(t)
	w, err := Initialize(
		store, newMockClient(), testMnemonic, []byte(testPassphrase),
		testOptions(),
	)
	require.NoError(t, err)
	defer w.Close()

	first, err := w.NewAddress()
	require.NoError(t, err)
	second, err := w.NewAddress()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestSyncPersistsState(t *testing.T) {
	store := newTestStore(t)
	client := newMockClient()

	w, err := Initialize(
		store, client, testMnemonic, []byte(testPassphrase), testOptions(),
	)
	require.NoError(t, err)

	txid := fundWallet(t, client, w)
	require.NoError(t, w.Sync(context.Background()))

	balance := w.Balance()
	assert.Equal(t, uint64(100000), balance[network.Regtest.AssetID])

	utxos := w.ListUtxos()
	require.Len(t, utxos, 1)
	assert.Equal(t, txid, utxos[0].TxID)

	txs := w.ListTransactions()
	require.Len(t, txs, 1)
	assert.Equal(t, txid, txs[0].TxID)
	assert.Equal(t, int32(101), txs[0].Height)
	assert.True(t, txs[0].Confirmed())

	w.Close()

	// the synced state survives a restart without talking to the server
	reopened, err := Open(store, client, []byte(testPassphrase), testOptions())
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(100000), reopened.Balance()[network.Regtest.AssetID])
	assert.Len(t, reopened.ListUtxos(), 1)
}

func TestSyncKeepsReservationsTakenDuringRound(t *testing.T) {
	store := newTestStore(t)
	client := newMockClient()

	w, err := Initialize(
		store, client, testMnemonic, []byte(testPassphrase), testOptions(),
	)
	require.NoError(t, err)
	defer w.Close()

	txid := fundWallet(t, client, w)
	require.NoError(t, w.Sync(context.Background()))
	require.Len(t, w.ListUtxos(), 1)

	// a reservation landing in the middle of a round must survive the commit
	op := domain.Outpoint{TxID: txid, VOut: 0}
	client.onGetTip = func() {
		_ = w.Reserve(op)
	}
	require.NoError(t, w.Sync(context.Background()))
	client.onGetTip = nil

	assert.Empty(t, w.ListUtxos())
	assert.Empty(t, w.Balance())

	w.Release(op)
	assert.Len(t, w.ListUtxos(), 1)
}

func TestSyncDoesNotRaceWithReservations(t *testing.T) {
	store := newTestStore(t)
	client := newMockClient()

	w, err := Initialize(
		store, client, testMnemonic, []byte(testPassphrase), testOptions(),
	)
	require.NoError(t, err)
	defer w.Close()

	txid := fundWallet(t, client, w)
	require.NoError(t, w.Sync(context.Background()))

	op := domain.Outpoint{TxID: txid, VOut: 0}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if err := w.Reserve(op); err == nil {
				w.Release(op)
			}
		}
	}()

	for i := 0; i < 10; i++ {
		require.NoError(t, w.Sync(context.Background()))
	}
	<-done
}

func TestChangePassphrase(t *testing.T) {
	store := newTestStore(t)
	client := newMockClient()

	w, err := Initialize(
		store, client, testMnemonic, []byte(testPassphrase), testOptions(),
	)
	require.NoError(t, err)

	newPassphrase := []byte("a brand new passphrase")
	require.NoError(t, w.ChangePassphrase([]byte(testPassphrase), newPassphrase))

	// the wallet keeps working and persisting under the new passphrase
	_, err = w.NewAddress()
	require.NoError(t, err)
	w.Close()

	_, err = Open(store, client, []byte(testPassphrase), testOptions())
	assert.ErrorIs(t, err, securestore.ErrAuthenticationFailed)

	reopened, err := Open(store, client, newPassphrase, testOptions())
	require.NoError(t, err)
	reopened.Close()
}
