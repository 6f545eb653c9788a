package wallet

import (
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"privwallet/internal/transactions"
	"privwallet/internal/transactions/register"
	"privwallet/internal/utt"
)

// state is everything the wallet persists.
type state struct {
	Identity   string               `cbor:"1,keyasint"`
	SecretKey  []byte               `cbor:"2,keyasint"`
	Credential *register.Credential `cbor:"3,keyasint,omitempty"`
	Pending    *register.Pending    `cbor:"4,keyasint,omitempty"`
	Coins      []*utt.Coin          `cbor:"5,keyasint"`
	Budget     *utt.Coin            `cbor:"6,keyasint,omitempty"`
	// Spent holds the nullifiers of coins this wallet has seen consumed.
	Spent  map[string]bool         `cbor:"7,keyasint"`
	Claims map[string]*claimRecord `cbor:"8,keyasint"`
}

// claimRecord remembers what a claimed transaction produced.
type claimRecord struct {
	Outputs string      `cbor:"1,keyasint"`
	Coins   []*utt.Coin `cbor:"2,keyasint"`
}

func newState(identity string, secret []byte) *state {
	return &state{
		Identity:  identity,
		SecretKey: secret,
		Spent:     make(map[string]bool),
		Claims:    make(map[string]*claimRecord),
	}
}

func (s *state) marshal() ([]byte, error) {
	return cbor.Marshal(s)
}

func unmarshalState(data []byte) (*state, error) {
	var s state
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "decode wallet state")
	}
	if s.Spent == nil {
		s.Spent = make(map[string]bool)
	}
	if s.Claims == nil {
		s.Claims = make(map[string]*claimRecord)
	}
	return &s, nil
}

// clone deep-copies through the codec so no secret material is shared.
func (s *state) clone() (*state, error) {
	raw, err := s.marshal()
	if err != nil {
		return nil, err
	}
	return unmarshalState(raw)
}

func (s *state) spendable(p *utt.GlobalParams, now time.Time) []*utt.Coin {
	var out []*utt.Coin
	for _, c := range s.Coins {
		if c.Type == utt.NormalCoin && c.IsSpendable(p, now) {
			out = append(out, c)
		}
	}
	return out
}

func (s *state) balance(p *utt.GlobalParams, now time.Time) uint64 {
	var total uint64
	for _, c := range s.spendable(p, now) {
		total += c.Value
	}
	return total
}

// activeBudget returns the budget coin if it can still be spent.
func (s *state) activeBudget(p *utt.GlobalParams, now time.Time) *utt.Coin {
	if s.Budget == nil || !s.Budget.IsSpendable(p, now) {
		return nil
	}
	return s.Budget
}

func (s *state) hasCoin(nullifier string) bool {
	if s.Budget != nil && s.Budget.Nullifier == nullifier {
		return true
	}
	for _, c := range s.Coins {
		if c.Nullifier == nullifier {
			return true
		}
	}
	return false
}

// apply consumes the coins tx spends and adds the claimed ones.
func (s *state) apply(tx *transactions.Transaction, coins []*utt.Coin) {
	for _, n := range tx.Nullifiers {
		if !s.hasCoin(n) {
			continue
		}
		s.Spent[n] = true
	}
	kept := s.Coins[:0]
	for _, c := range s.Coins {
		if !s.Spent[c.Nullifier] {
			kept = append(kept, c)
		}
	}
	s.Coins = kept
	if s.Budget != nil && s.Spent[s.Budget.Nullifier] {
		s.Budget = nil
	}
	for _, c := range coins {
		if s.Spent[c.Nullifier] || s.hasCoin(c.Nullifier) {
			continue
		}
		if c.Type == utt.BudgetCoin {
			s.Budget = c.Clone()
			continue
		}
		s.Coins = append(s.Coins, c.Clone())
	}
}

// claimKey identifies a transaction by its type and revealed nullifiers.
func claimKey(tx *transactions.Transaction) string {
	ns := append([]string{}, tx.Nullifiers...)
	sort.Strings(ns)
	return tx.Type.String() + ":" + strings.Join(ns, ",")
}

// outputsDigest fingerprints the coin descriptors of tx.
func outputsDigest(tx *transactions.Transaction) (string, error) {
	raw, err := cbor.Marshal(tx.Outputs)
	if err != nil {
		return "", errors.Wrap(err, "encode outputs")
	}
	return hex.EncodeToString(utt.Digest("UTT-CLAIM-OUTPUTS-V1", raw)), nil
}
