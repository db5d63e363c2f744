package domain

import (
	"encoding/hex"
	"fmt"

	"github.com/liquidtools/walletd/pkg/bufferutil"
	"github.com/vulpemventures/go-elements/transaction"
)

// Outpoint identifies a transaction output.
type Outpoint struct {
	TxID string `json:"txid"`
	VOut uint32 `json:"vout"`
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.VOut)
}

// Utxo is an unspent output owned by the wallet. The commitments are the
// on-chain (possibly blinded) representation; the clear value, asset and
// blinding factors are filled once the output has been unblinded with the
// owning address' blinding key. An output whose factors could not be
// recovered is not ours and is never stored.
type Utxo struct {
	Outpoint

	// owning address
	Chain uint32 `json:"chain"`
	Index uint32 `json:"index"`

	Script          []byte `json:"script"`
	AssetCommitment []byte `json:"assetCommitment"`
	ValueCommitment []byte `json:"valueCommitment"`
	Nonce           []byte `json:"nonce,omitempty"`
	RangeProof      []byte `json:"rangeProof,omitempty"`
	SurjectionProof []byte `json:"surjectionProof,omitempty"`

	// revealed secrets
	Asset        string `json:"asset"`
	Value        uint64 `json:"value"`
	AssetBlinder []byte `json:"assetBlinder,omitempty"`
	ValueBlinder []byte `json:"valueBlinder,omitempty"`

	// 0 means unconfirmed
	ConfirmedHeight uint32 `json:"confirmedHeight"`

	// Reserved marks the utxo as provisionally selected by an in-progress
	// transaction build. Never persisted.
	Reserved bool `json:"-"`
}

// IsConfidential returns whether the on-chain output is blinded.
func (u *Utxo) IsConfidential() bool {
	return len(u.AssetCommitment) == 33 && u.AssetCommitment[0] != 0x01
}

// IsRevealed returns whether the blinding factors of the output have been
// recovered.
func (u *Utxo) IsRevealed() bool {
	return u.Value > 0 && len(u.Asset) == 64
}

// IsConfirmed ...
func (u *Utxo) IsConfirmed() bool {
	return u.ConfirmedHeight > 0
}

// Spendable returns whether the utxo can be selected by a new transaction:
// its secrets are known and it is not reserved by another build.
func (u *Utxo) Spendable() bool {
	return u.IsRevealed() && !u.Reserved
}

// Parse returns the utxo as a transaction input along with the witness
// prevout needed to blind and sign a transaction spending it.
func (u *Utxo) Parse() (*transaction.TxInput, *transaction.TxOutput, error) {
	txidBytes, err := bufferutil.TxIDToBytes(u.TxID)
	if err != nil {
		return nil, nil, err
	}
	input := transaction.NewTxInput(txidBytes, u.VOut)

	prevout := &transaction.TxOutput{
		Asset:           u.AssetCommitment,
		Value:           u.ValueCommitment,
		Script:          u.Script,
		Nonce:           u.Nonce,
		RangeProof:      u.RangeProof,
		SurjectionProof: u.SurjectionProof,
	}
	return input, prevout, nil
}

// ScriptHex ...
func (u *Utxo) ScriptHex() string {
	return hex.EncodeToString(u.Script)
}
