// Package claim turns validator shares for a transaction into the coins the
// claiming wallet owns.
//
// For every output the wallet tries to open the encrypted opening: its own
// outputs with its Sealer, outputs addressed to it with its Decryptor. Each
// owned output needs F+1 shares that verify under their validator's key.
// Outputs it cannot open belong to someone else; they still need shares from
// F+1 distinct validators, and a transaction must be acknowledged by F+1
// validators even when it has no outputs, or the inputs would be dropped
// without the ledger having seen them spent.
package claim

import (
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/pkg/errors"

	"privwallet/internal/signer"
	"privwallet/internal/transactions"
	"privwallet/internal/utt"
)

// Owner is the claiming wallet's key material.
type Owner struct {
	PID       utt.Scalar
	PRFKey    utt.Scalar
	Sealer    *utt.Sealer
	Decryptor utt.Decryptor
}

// Aggregate unblinds shares with d, keeps those that verify for attrs under
// their validator's key, and combines F+1 of them. It is pure: no signer and
// no wallet state is involved.
func Aggregate(p *utt.GlobalParams, req *utt.BlindRequest, d fr.Element, attrs []fr.Element, shares []utt.BlindShare) (*utt.Signature, error) {
	h := req.H()
	valid := make(map[int]bls12377.G1Affine, p.Threshold())
	for i := range shares {
		if len(valid) == p.Threshold() {
			break
		}
		sh := &shares[i]
		if _, dup := valid[sh.Index]; dup {
			continue
		}
		sigma := sh.Unblind(d)
		if p.Coin.VerifyShare(sh.Index, h, sigma, attrs) {
			valid[sh.Index] = sigma
		}
	}
	if len(valid) < p.Threshold() {
		return nil, errors.Wrapf(utt.ErrIncompleteClaim, "%d valid shares, need %d", len(valid), p.Threshold())
	}
	sig := &utt.Signature{H: utt.Point1{G1Affine: h}, S: utt.Point1{G1Affine: utt.Combine(valid)}}
	if !p.Coin.Verify(sig, attrs) {
		return nil, errors.Wrap(utt.ErrIncompleteClaim, "combined signature does not verify")
	}
	return sig, nil
}

// open returns the opening of out if it is addressed to o.
func (o *Owner) open(out *transactions.Output) (*utt.Opening, bool) {
	var raw []byte
	var err error
	if out.Self {
		if o.Sealer == nil {
			return nil, false
		}
		cm := out.Request.Commitment.Bytes()
		raw, err = o.Sealer.Open(out.Opening, cm[:])
	} else {
		if o.Decryptor == nil {
			return nil, false
		}
		raw, err = o.Decryptor.Decrypt(out.Opening)
	}
	if err != nil {
		return nil, false
	}
	op, err := utt.UnmarshalOpening(raw)
	if err != nil {
		return nil, false
	}
	return op, true
}

// Sort groups shares by output. Shares whose claimed validator does not match
// the key they arrived under are dropped.
func Sort(tx *transactions.Transaction, shares map[int][]signer.SignatureShare) [][]utt.BlindShare {
	out := make([][]utt.BlindShare, len(tx.Outputs))
	for v, list := range shares {
		for _, sh := range list {
			if sh.Validator != v || sh.Blind.Index != v || sh.Output < 0 || sh.Output >= len(out) {
				continue
			}
			out[sh.Output] = append(out[sh.Output], sh.Blind)
		}
	}
	return out
}

// acknowledged counts the validators that answered for tx. An empty share
// list is an acknowledgement: it is what a validator returns for a
// transaction without outputs.
func acknowledged(p *utt.GlobalParams, tx *transactions.Transaction, shares map[int][]signer.SignatureShare) int {
	n := 0
	for v, list := range shares {
		if v < 1 || v > p.N || len(list) != len(tx.Outputs) {
			continue
		}
		n++
	}
	return n
}

func distinctSigners(list []utt.BlindShare) int {
	seen := make(map[int]bool, len(list))
	for _, sh := range list {
		seen[sh.Index] = true
	}
	return len(seen)
}

// Claim returns the coins in tx that belong to owner, all or nothing.
func Claim(p *utt.GlobalParams, owner *Owner, tx *transactions.Transaction, shares map[int][]signer.SignatureShare) ([]*utt.Coin, error) {
	if tx == nil {
		return nil, errors.Wrap(utt.ErrInvalidTransaction, "nothing to claim")
	}
	if n := acknowledged(p, tx, shares); n < p.Threshold() {
		return nil, errors.Wrapf(utt.ErrIncompleteClaim, "%d validators signed, need %d", n, p.Threshold())
	}
	perOutput := Sort(tx, shares)
	var coins []*utt.Coin
	for k, out := range tx.Outputs {
		op, ok := owner.open(out)
		if !ok {
			if n := distinctSigners(perOutput[k]); n < p.Threshold() {
				return nil, errors.Wrapf(utt.ErrIncompleteClaim, "output %d: %d validators signed, need %d", k, n, p.Threshold())
			}
			continue
		}
		if !op.PID.Equal(&owner.PID.Element) || !op.Matches(p.Coin, &out.Request) {
			return nil, errors.Wrapf(utt.ErrMalformedCoin, "output %d does not match its opening", k)
		}
		attrs := op.Attributes()
		sig, err := Aggregate(p, &out.Request, op.D.Element, attrs, perOutput[k])
		if err != nil {
			return nil, errors.Wrapf(err, "output %d", k)
		}
		coin := op.Coin()
		coin.Sig = sig
		coin.Nullifier = utt.DeriveNullifier(p, owner.PRFKey.Element, coin).Hex()
		coins = append(coins, coin)
	}
	return coins, nil
}
