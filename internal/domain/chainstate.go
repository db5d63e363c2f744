package domain

import (
	"sort"

	"github.com/liquidtools/walletd/pkg/electrum"
)

// ChainState is the wallet's last fully committed view of the chain, as
// reconciled from server facts. It is mutated only by the sync engine: a
// sync round either commits a fully consistent snapshot or leaves the
// previous one untouched.
type ChainState struct {
	// Statuses maps each known scripthash to the status hash last returned
	// by the server for it. A stored status differing from the server's is
	// the signal that a refetch of that scripthash is pending.
	Statuses map[string]string `json:"statuses"`
	// Histories maps each scripthash to its full history in server order.
	Histories map[string][]electrum.HistoryItem `json:"histories"`
	// Txs caches the raw hex of every transaction touching the wallet.
	Txs map[string]string `json:"txs"`
	// BlockHashes records the hash of every block containing a wallet
	// transaction, used to detect reorganizations.
	BlockHashes map[uint32]string `json:"blockHashes"`
	// Tip is the best known block.
	Tip electrum.Tip `json:"tip"`
	// Utxos is the set of unspent outputs owned by the wallet, keyed by
	// outpoint.
	Utxos map[string]*Utxo `json:"utxos"`
}

// NewChainState returns an empty chain state.
func NewChainState() *ChainState {
	return &ChainState{
		Statuses:    map[string]string{},
		Histories:   map[string][]electrum.HistoryItem{},
		Txs:         map[string]string{},
		BlockHashes: map[uint32]string{},
		Utxos:       map[string]*Utxo{},
	}
}

// Clone returns a deep copy of the state. The sync engine works on a clone
// and swaps it in only when the whole round has succeeded.
func (s *ChainState) Clone() *ChainState {
	clone := NewChainState()
	for k, v := range s.Statuses {
		clone.Statuses[k] = v
	}
	for k, v := range s.Histories {
		history := make([]electrum.HistoryItem, len(v))
		copy(history, v)
		clone.Histories[k] = history
	}
	for k, v := range s.Txs {
		clone.Txs[k] = v
	}
	for k, v := range s.BlockHashes {
		clone.BlockHashes[k] = v
	}
	clone.Tip = s.Tip
	for k, v := range s.Utxos {
		utxo := *v
		clone.Utxos[k] = &utxo
	}
	return clone
}

// TxHeight returns the height a transaction is confirmed at, or 0 when the
// transaction is unknown or unconfirmed.
func (s *ChainState) TxHeight(txid string) int32 {
	for _, history := range s.Histories {
		for _, item := range history {
			if item.TxID == txid {
				return item.Height
			}
		}
	}
	return 0
}

// Spendable returns the utxos selectable by a new transaction.
func (s *ChainState) Spendable() []*Utxo {
	utxos := make([]*Utxo, 0, len(s.Utxos))
	for _, u := range s.Utxos {
		if u.Spendable() {
			utxos = append(utxos, u)
		}
	}
	sort.Slice(utxos, func(i, j int) bool {
		if utxos[i].Value != utxos[j].Value {
			return utxos[i].Value > utxos[j].Value
		}
		return utxos[i].String() < utxos[j].String()
	})
	return utxos
}

// Balance returns the total spendable amount per asset.
func (s *ChainState) Balance() map[string]uint64 {
	balance := map[string]uint64{}
	for _, u := range s.Spendable() {
		balance[u.Asset] += u.Value
	}
	return balance
}

// Reserve marks the given outpoints as provisionally selected by an
// in-progress build. It fails without side effects if any of them is
// already reserved or unknown.
func (s *ChainState) Reserve(outpoints ...Outpoint) error {
	for _, op := range outpoints {
		utxo, ok := s.Utxos[op.String()]
		if !ok {
			return ErrUtxoNotFound
		}
		if utxo.Reserved {
			return ErrUtxoAlreadyReserved
		}
	}
	for _, op := range outpoints {
		s.Utxos[op.String()].Reserved = true
	}
	return nil
}

// Release clears the reservation of the given outpoints.
func (s *ChainState) Release(outpoints ...Outpoint) {
	for _, op := range outpoints {
		if utxo, ok := s.Utxos[op.String()]; ok {
			utxo.Reserved = false
		}
	}
}

// ApplyReorg is the pure state transition resolving a chain
// reorganization diverging at forkHeight: every fact recorded at or above
// the diverging height is invalidated and the transactions confirmed there
// are treated as unconfirmed until re-fetched. It returns the new state and
// the set of invalidated heights; the input state is left untouched.
func ApplyReorg(state *ChainState, forkHeight uint32) (*ChainState, []uint32) {
	next := state.Clone()
	invalidatedSet := map[uint32]struct{}{}

	for height := range next.BlockHashes {
		if height >= forkHeight {
			invalidatedSet[height] = struct{}{}
			delete(next.BlockHashes, height)
		}
	}

	for scripthash, history := range next.Histories {
		changed := false
		for i, item := range history {
			if item.Height >= int32(forkHeight) {
				history[i].Height = 0
				changed = true
			}
		}
		if changed {
			// force a refetch of the scripthash on the next discovery
			delete(next.Statuses, scripthash)
		}
	}

	for _, utxo := range next.Utxos {
		if utxo.ConfirmedHeight >= forkHeight {
			utxo.ConfirmedHeight = 0
		}
	}

	if next.Tip.Height >= forkHeight {
		next.Tip = electrum.Tip{}
	}

	invalidated := make([]uint32, 0, len(invalidatedSet))
	for height := range invalidatedSet {
		invalidated = append(invalidated, height)
	}
	sort.Slice(invalidated, func(i, j int) bool {
		return invalidated[i] < invalidated[j]
	})
	return next, invalidated
}
