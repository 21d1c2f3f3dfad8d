// Package coins selects unspent outputs to cover a requested amount.
package coins

import (
	"math"
	"slices"

	"github.com/Aaronyf/beam/service/wallet"
)

// Selection is the outcome of Select.
type Selection struct {
	Coins      []wallet.Coin
	Sum        wallet.Amount
	Change     wallet.Amount // Sum - target when Sufficient
	Sufficient bool
}

// Select accumulates candidates greedily in the order given until their sum
// reaches target. When the candidates cannot cover target the result is the
// insufficient outcome: no coins, zero sum and zero change. A zero target is
// covered by an empty selection.
//
// Select never reorders candidates; callers that want a deterministic policy
// pass them through Sort first. Sum saturates at the largest Amount; Change
// is always exact.
func Select(candidates []wallet.Coin, target wallet.Amount) Selection {
	if target == 0 {
		return Selection{Sufficient: true}
	}

	var sum wallet.Amount
	for i, c := range candidates {
		if c.Amount == 0 {
			continue
		}
		// sum < target here, so target-sum cannot wrap.
		if need := target - sum; c.Amount >= need {
			selected := make([]wallet.Coin, 0, i+1)
			for _, s := range candidates[:i+1] {
				if s.Amount > 0 {
					selected = append(selected, s)
				}
			}
			change := c.Amount - need
			return Selection{
				Coins:      selected,
				Sum:        saturatingAdd(target, change),
				Change:     change,
				Sufficient: true,
			}
		}
		sum += c.Amount
	}
	return Selection{}
}

// Sort orders coins by ascending ID, the order stores hand candidates to
// Select in. It returns a sorted copy.
func Sort(in []wallet.Coin) []wallet.Coin {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b wallet.Coin) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Total sums the amounts of coins with the given status, saturating at the
// largest Amount.
func Total(in []wallet.Coin, status wallet.CoinStatus) wallet.Amount {
	var total wallet.Amount
	for _, c := range in {
		if c.Status == status {
			total = saturatingAdd(total, c.Amount)
		}
	}
	return total
}

func saturatingAdd(a, b wallet.Amount) wallet.Amount {
	if b > math.MaxUint64-a {
		return math.MaxUint64
	}
	return a + b
}

// Available filters coins down to those that can be spent.
func Available(in []wallet.Coin) []wallet.Coin {
	out := make([]wallet.Coin, 0, len(in))
	for _, c := range in {
		if c.IsAvailable() {
			out = append(out, c)
		}
	}
	return out
}
