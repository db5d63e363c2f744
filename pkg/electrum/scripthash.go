package electrum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ScriptHash returns the subscription key of an output script: the sha256
// digest of the script, byte-reversed, in hex format.
func ScriptHash(script []byte) string {
	digest := sha256.Sum256(script)
	for i, j := 0, len(digest)-1; i < j; i, j = i+1, j-1 {
		digest[i], digest[j] = digest[j], digest[i]
	}
	return hex.EncodeToString(digest[:])
}

// StatusHash recomputes the status of a scripthash from its history: the
// sha256 digest, in hex format, of the "txid:height:" concatenation over
// all entries in server order. An empty history maps to the empty status,
// matching the null status reported by the server for unseen scripts.
func StatusHash(history []HistoryItem) string {
	if len(history) == 0 {
		return ""
	}
	h := sha256.New()
	for _, item := range history {
		fmt.Fprintf(h, "%s:%d:", item.TxID, item.Height)
	}
	return hex.EncodeToString(h.Sum(nil))
}
