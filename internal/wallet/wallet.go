// Package wallet ties the keyring, the encrypted store, the sync engine and
// the transaction builder together behind a single concurrency safe facade.
// All wallet state, keys included, lives in one sealed snapshot, so that a
// restart only needs the passphrase to recover everything.
package wallet

import (
	"context"
	"sort"
	stdsync "sync"

	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/go-elements/network"

	"github.com/liquidtools/walletd/internal/domain"
	chainsync "github.com/liquidtools/walletd/internal/sync"
	"github.com/liquidtools/walletd/internal/txbuilder"
	"github.com/liquidtools/walletd/pkg/electrum"
	"github.com/liquidtools/walletd/pkg/keyring"
	"github.com/liquidtools/walletd/pkg/securestore"
)

// Options tunes a wallet instance.
type Options struct {
	Network          *network.Network
	GapLimit         int
	MillisatsPerByte int
	Sync             chainsync.Options
}

func (o Options) withDefaults() Options {
	if o.Network == nil {
		o.Network = &network.Liquid
	}
	if o.GapLimit <= 0 {
		o.GapLimit = keyring.DefaultGapLimit
	}
	if o.MillisatsPerByte < txbuilder.MinMillisatsPerByte {
		o.MillisatsPerByte = txbuilder.MinMillisatsPerByte
	}
	return o
}

// TxInfo is one wallet transaction as exposed by ListTransactions.
type TxInfo struct {
	TxID   string
	Height int32
}

// Confirmed returns whether the transaction is included in a block.
func (t TxInfo) Confirmed() bool {
	return t.Height > 0
}

// Wallet is an unlocked wallet. It is safe for concurrent use.
type Wallet struct {
	mtx stdsync.RWMutex

	opts       Options
	store      *securestore.Store
	client     electrum.Client
	ring       *keyring.KeyRing
	book       *keyring.AddressBook
	engine     *chainsync.Engine
	builder    *txbuilder.Builder
	state      *domain.ChainState
	mnemonic   string
	passphrase []byte
	closed     bool
}

// Initialize creates a brand new wallet from the given mnemonic and seals it
// under the passphrase. It fails if the store already holds a wallet.
func Initialize(
	store *securestore.Store,
	client electrum.Client,
	mnemonic string,
	passphrase []byte,
	opts Options,
) (*Wallet, error) {
	if store.Exists() {
		return nil, ErrWalletAlreadyInitialized
	}
	opts = opts.withDefaults()

	w, err := assemble(store, client, mnemonic, passphrase, opts, nil)
	if err != nil {
		return nil, err
	}
	if err := w.persist(); err != nil {
		return nil, err
	}
	return w, nil
}

// Open unseals the persisted wallet with the passphrase and restores its
// last committed state.
func Open(
	store *securestore.Store,
	client electrum.Client,
	passphrase []byte,
	opts Options,
) (*Wallet, error) {
	opts = opts.withDefaults()

	buf, err := store.LoadAndOpen(passphrase)
	if err != nil {
		return nil, err
	}
	snapshot, err := domain.DeserializeSnapshot(buf)
	if err != nil {
		return nil, err
	}
	if snapshot.Network != opts.Network.Name {
		return nil, ErrNetworkMismatch
	}

	return assemble(store, client, snapshot.Mnemonic, passphrase, opts, snapshot)
}

func assemble(
	store *securestore.Store,
	client electrum.Client,
	mnemonic string,
	passphrase []byte,
	opts Options,
	snapshot *domain.Snapshot,
) (*Wallet, error) {
	ring, err := keyring.NewKeyRingFromMnemonic(mnemonic, opts.Network)
	if err != nil {
		return nil, err
	}
	book := keyring.NewAddressBook(ring, opts.GapLimit)

	state := domain.NewChainState()
	if snapshot != nil {
		book.Restore(snapshot.NextExternal, snapshot.NextInternal)
		state = snapshot.Chain
	}

	w := &Wallet{
		opts:       opts,
		store:      store,
		client:     client,
		ring:       ring,
		book:       book,
		state:      state,
		mnemonic:   mnemonic,
		passphrase: append([]byte{}, passphrase...),
	}
	w.engine = chainsync.NewEngine(client, ring, book, opts.Sync)
	w.builder = txbuilder.NewBuilder(ring, book, w)
	return w, nil
}

// Sync runs one sync round against the server and commits the resulting
// state, persisting a fresh sealed snapshot. On failure the previous state
// stays in place. The engine works on a private clone, so builds keep
// running concurrently; their reservations are reapplied under the lock
// when the round commits.
func (w *Wallet) Sync(ctx context.Context) error {
	w.mtx.RLock()
	if w.closed {
		w.mtx.RUnlock()
		return ErrWalletClosed
	}
	prev := w.state.Clone()
	w.mtx.RUnlock()

	next, err := w.engine.Round(ctx, prev)
	if err != nil {
		return err
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.closed {
		return ErrWalletClosed
	}
	// carry over every reservation still alive, including the ones taken
	// while the round was running
	for op, utxo := range w.state.Utxos {
		if !utxo.Reserved {
			continue
		}
		if surviving, ok := next.Utxos[op]; ok {
			surviving.Reserved = true
		}
	}
	w.state = next
	log.WithFields(log.Fields{
		"utxos":  len(next.Utxos),
		"height": next.Tip.Height,
	}).Info("wallet synced")
	return w.persistLocked()
}

// SyncStatus returns the current phase of the sync engine.
func (w *Wallet) SyncStatus() chainsync.Status {
	return w.engine.Status()
}

// Balance returns the spendable amount per asset.
func (w *Wallet) Balance() map[string]uint64 {
	w.mtx.RLock()
	defer w.mtx.RUnlock()
	return w.state.Balance()
}

// ListUtxos returns the spendable utxos of the wallet.
func (w *Wallet) ListUtxos() []*domain.Utxo {
	w.mtx.RLock()
	defer w.mtx.RUnlock()
	return w.state.Spendable()
}

// ListTransactions returns every transaction touching the wallet, confirmed
// ones first in height order, then mempool ones sorted by id.
func (w *Wallet) ListTransactions() []TxInfo {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	txs := make([]TxInfo, 0, len(w.state.Txs))
	for txid := range w.state.Txs {
		txs = append(txs, TxInfo{TxID: txid, Height: w.state.TxHeight(txid)})
	}
	sort.Slice(txs, func(i, j int) bool {
		ti, tj := txs[i], txs[j]
		if ti.Confirmed() != tj.Confirmed() {
			return ti.Confirmed()
		}
		if ti.Height != tj.Height {
			return ti.Height < tj.Height
		}
		return ti.TxID < tj.TxID
	})
	return txs
}

// NewAddress returns a fresh confidential receiving address and moves the
// external counter past it, so consecutive calls yield distinct addresses.
func (w *Wallet) NewAddress() (string, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.closed {
		return "", ErrWalletClosed
	}

	info, err := w.book.NextUnused(keyring.ExternalChain)
	if err != nil {
		return "", err
	}
	w.book.MarkUsed(keyring.ExternalChain, info.Index)

	if err := w.persistLocked(); err != nil {
		return "", err
	}
	return info.Address, nil
}

// BuildTransaction assembles, blinds and signs a transaction paying the
// given recipients without broadcasting it. The selected coins stay reserved
// until the transaction is broadcast or the reservation released.
func (w *Wallet) BuildTransaction(
	recipients []txbuilder.Recipient,
) (*txbuilder.Result, error) {
	w.mtx.RLock()
	if w.closed {
		w.mtx.RUnlock()
		return nil, ErrWalletClosed
	}
	w.mtx.RUnlock()

	result, err := w.builder.Build(recipients, w.opts.MillisatsPerByte)
	if err != nil {
		return nil, err
	}
	// the build consumed internal addresses, keep the counters durable
	if err := w.persist(); err != nil {
		w.Release(result.Selected...)
		return nil, err
	}
	return result, nil
}

// SendToMany builds a transaction paying the given recipients and broadcasts
// it. The reservation of the spent coins is rolled back if the broadcast
// fails.
func (w *Wallet) SendToMany(
	ctx context.Context, recipients []txbuilder.Recipient,
) (string, error) {
	result, err := w.BuildTransaction(recipients)
	if err != nil {
		return "", err
	}

	txid, err := w.client.Broadcast(ctx, result.TxHex)
	if err != nil {
		w.Release(result.Selected...)
		return "", err
	}
	log.WithFields(log.Fields{
		"txid": txid,
		"fee":  result.Fee,
	}).Info("transaction broadcast")
	return txid, nil
}

// ChangePassphrase re-seals the wallet under a new passphrase.
func (w *Wallet) ChangePassphrase(oldPassphrase, newPassphrase []byte) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.closed {
		return ErrWalletClosed
	}

	if err := w.store.ChangePassphrase(oldPassphrase, newPassphrase); err != nil {
		return err
	}
	zero(w.passphrase)
	w.passphrase = append([]byte{}, newPassphrase...)
	return nil
}

// Close zeroes the key material. The wallet is unusable afterwards.
func (w *Wallet) Close() {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.closed {
		return
	}
	w.ring.Close()
	zero(w.passphrase)
	w.mnemonic = ""
	w.closed = true
}

// Spendable implements txbuilder.UtxoView.
func (w *Wallet) Spendable() []*domain.Utxo {
	w.mtx.RLock()
	defer w.mtx.RUnlock()
	return w.state.Spendable()
}

// Reserve implements txbuilder.UtxoView.
func (w *Wallet) Reserve(outpoints ...domain.Outpoint) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.state.Reserve(outpoints...)
}

// Release implements txbuilder.UtxoView.
func (w *Wallet) Release(outpoints ...domain.Outpoint) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	w.state.Release(outpoints...)
}

func (w *Wallet) persist() error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.persistLocked()
}

func (w *Wallet) persistLocked() error {
	external, internal := w.book.NextIndexes()
	snapshot := domain.NewSnapshot(
		w.mnemonic, w.opts.Network.Name, external, internal, w.state,
	)
	buf, err := snapshot.Serialize()
	if err != nil {
		return err
	}
	defer zero(buf)
	return w.store.SealAndPersist(buf, w.passphrase)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
