// Package electrum defines the client-side view of an Electrum-style chain
// indexing server. The wire transport is provided by the consumer of this
// module; this package only fixes the contract the sync engine relies on,
// plus the scripthash and status-hash computations both ends of the
// protocol must agree on.
package electrum

import "context"

// HistoryItem is one entry of a scripthash history as reported by the
// server. Height is 0 for mempool transactions and -1 for mempool
// transactions with unconfirmed parents, following the protocol.
type HistoryItem struct {
	TxID   string `json:"tx_hash"`
	Height int32  `json:"height"`
	Fee    uint64 `json:"fee,omitempty"`
}

// Confirmed returns whether the entry is included in a block.
func (h HistoryItem) Confirmed() bool {
	return h.Height > 0
}

// Tip is the best known chain tip.
type Tip struct {
	Height uint32 `json:"height"`
	Hash   string `json:"hash"`
}

// Client is the subset of the Electrum protocol consumed by the wallet.
// Every call must honor the context deadline; no call may block
// indefinitely. All responses are treated as untrusted input and validated
// by the caller before being merged into any local state.
type Client interface {
	// SubscribeScripthash subscribes to the given scripthash and returns
	// its current status hash, empty if the scripthash has no history.
	SubscribeScripthash(ctx context.Context, scripthash string) (status string, err error)
	// GetHistory returns the full confirmed and unconfirmed history of the
	// given scripthash.
	GetHistory(ctx context.Context, scripthash string) ([]HistoryItem, error)
	// GetTransaction returns the raw transaction in hex format.
	GetTransaction(ctx context.Context, txid string) (txhex string, err error)
	// GetBlockHash returns the hash of the block at the given height.
	GetBlockHash(ctx context.Context, height uint32) (hash string, err error)
	// GetTip returns the best known block height and hash.
	GetTip(ctx context.Context) (*Tip, error)
	// Broadcast submits a raw transaction to the network and returns its
	// txid.
	Broadcast(ctx context.Context, txhex string) (txid string, err error)
}
