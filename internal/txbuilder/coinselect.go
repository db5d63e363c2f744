package txbuilder

import (
	"sort"

	"github.com/liquidtools/walletd/internal/domain"
)

// Select picks utxos of the given asset covering the target amount and
// returns them along with the change. The policy is largest first, with ties
// broken by outpoint, so that the same inputs always produce the same
// selection.
func Select(
	utxos []*domain.Utxo, target uint64, asset string,
) ([]*domain.Utxo, uint64, error) {
	candidates := make([]*domain.Utxo, 0, len(utxos))
	for _, u := range utxos {
		if u.Asset == asset {
			candidates = append(candidates, u)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Value != candidates[j].Value {
			return candidates[i].Value > candidates[j].Value
		}
		return candidates[i].Outpoint.String() < candidates[j].Outpoint.String()
	})

	selected := make([]*domain.Utxo, 0, len(candidates))
	total := uint64(0)
	for _, u := range candidates {
		if total >= target {
			break
		}
		selected = append(selected, u)
		total += u.Value
	}

	if total < target {
		return nil, 0, &InsufficientFundsError{
			Asset:     asset,
			Required:  target,
			Available: total,
		}
	}
	return selected, total - target, nil
}
