package transactions

import (
	"sort"

	"privwallet/internal/utt"
)

// Selection is the result of choosing coins for an amount.
type Selection struct {
	Coins []*utt.Coin
	// Final is false when no combination of at most maxInputs coins covers
	// the amount; Coins then holds the largest coins to merge first.
	Final bool
}

// Total returns the combined value of the selection.
func (s Selection) Total() uint64 { return inputTotal(s.Coins) }

// SelectCoins picks normal coins for amount:
//  1. a coin of exactly the amount
//  2. the smallest coin larger than the amount
//  3. the largest coins, up to maxInputs, until the amount is covered
//  4. otherwise the maxInputs largest coins, to be merged (Final=false)
//
// Merging fewer than two coins changes nothing, so when step 4 cannot pick
// two coins the selection is empty and not final.
// Ties between equal values are broken by nullifier so the choice is
// deterministic. The caller checks the total balance first.
func SelectCoins(coins []*utt.Coin, amount uint64, maxInputs int) Selection {
	sorted := append([]*utt.Coin{}, coins...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Value != sorted[j].Value {
			return sorted[i].Value < sorted[j].Value
		}
		return sorted[i].Nullifier < sorted[j].Nullifier
	})
	for _, c := range sorted {
		if c.Value == amount {
			return Selection{Coins: []*utt.Coin{c}, Final: true}
		}
	}
	for _, c := range sorted {
		if c.Value > amount {
			return Selection{Coins: []*utt.Coin{c}, Final: true}
		}
	}
	var picked []*utt.Coin
	var total uint64
	for i := len(sorted) - 1; i >= 0 && len(picked) < maxInputs; i-- {
		picked = append(picked, sorted[i])
		total += sorted[i].Value
		if total >= amount {
			return Selection{Coins: picked, Final: true}
		}
	}
	if len(picked) < 2 {
		return Selection{}
	}
	return Selection{Coins: picked, Final: false}
}
