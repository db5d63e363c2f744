// Package transactionutil reveals the secrets of confidential outputs
// owned by the wallet.
package transactionutil

import (
	"encoding/hex"

	"github.com/liquidtools/walletd/pkg/bufferutil"
	"github.com/vulpemventures/go-elements/confidential"
	"github.com/vulpemventures/go-elements/transaction"
)

// UnblindedResult is the clear data of a confidential output after its
// blinding factors have been recovered with the owner's blinding key.
type UnblindedResult struct {
	AssetHash    string
	Value        uint64
	AssetBlinder []byte
	ValueBlinder []byte
}

// UnblindOutput attempts to reveal value, asset and blinding factors of the
// given output with the provided blinding private key. It returns false if
// the output cannot be unblinded, which means it is not owned by the holder
// of the key.
func UnblindOutput(
	utxo *transaction.TxOutput,
	blindKey []byte,
) (*UnblindedResult, bool) {
	// An explicit output carries its secrets in clear with nil blinders.
	if !utxo.IsConfidential() {
		return &UnblindedResult{
			AssetHash: bufferutil.AssetHashFromBytes(utxo.Asset),
			Value:     bufferutil.ValueFromBytes(utxo.Value),
		}, true
	}

	revealed, err := confidential.UnblindOutputWithKey(utxo, blindKey)
	if err != nil {
		return nil, false
	}

	return &UnblindedResult{
		AssetHash:    hex.EncodeToString(bufferutil.ReverseBytes(revealed.Asset)),
		Value:        revealed.Value,
		AssetBlinder: revealed.AssetBlindingFactor,
		ValueBlinder: revealed.ValueBlindingFactor,
	}, true
}
