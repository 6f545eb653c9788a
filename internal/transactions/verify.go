// verify.go - Full validation of a transaction, as run by every validator.

package transactions

import (
	"context"
	"time"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"privwallet/internal/utt"
)

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(utt.ErrInvalidTransaction, format, args...)
}

// Verify checks every proof and structural rule of tx. It does not consult
// any nullifier set; replay protection is the signer's job.
func Verify(ctx context.Context, p *utt.GlobalParams, tx *Transaction, now time.Time) error {
	if tx == nil || tx.Payload == nil || tx.Payload.Kind() != tx.Type {
		return invalid("payload does not match header type")
	}
	for i, o := range tx.Outputs {
		if o == nil || len(o.Opening) == 0 {
			return invalid("output %d is incomplete", i)
		}
	}
	switch pl := tx.Payload.(type) {
	case *MintPayload:
		if err := checkTag(tx, "mint:", pl.MintID); err != nil {
			return err
		}
		if pl.Amount == 0 {
			return invalid("mint of zero")
		}
		return verifyIssue(p, tx, pl.PID.Element, pl.Amount, utt.NormalCoin, 0, pl.Proof)
	case *BudgetPayload:
		if err := checkTag(tx, "budget:", pl.BudgetID); err != nil {
			return err
		}
		if pl.Expiration < uint64(now.Unix()) {
			return invalid("budget already expired")
		}
		return verifyIssue(p, tx, pl.PID.Element, pl.Amount, utt.BudgetCoin, pl.Expiration, pl.Proof)
	case *TransferPayload:
		return verifySpend(ctx, p, tx, pl.Registration, pl.Inputs, pl.Budget, 0, pl.Proof, now)
	case *BurnPayload:
		if pl.Amount == 0 {
			return invalid("burn of zero")
		}
		return verifySpend(ctx, p, tx, pl.Registration, pl.Inputs, nil, pl.Amount, pl.Proof, now)
	}
	return invalid("unknown payload")
}

func checkTag(tx *Transaction, prefix, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return invalid("bad issuance id %q", id)
	}
	if len(tx.Nullifiers) != 1 || tx.Nullifiers[0] != prefix+id {
		return invalid("issuance replay tag mismatch")
	}
	return nil
}

func publicEquals(req *utt.BlindRequest, want map[int]fr.Element) bool {
	if len(req.Public) != len(want) {
		return false
	}
	for _, a := range req.Public {
		w, ok := want[a.Index]
		if !ok || !w.Equal(&a.Value.Element) {
			return false
		}
	}
	return true
}

func scalarOf(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

func verifyIssue(p *utt.GlobalParams, tx *Transaction, pid fr.Element, amount uint64, typ utt.CoinType, exp uint64, proof *utt.Proof) error {
	if len(tx.Outputs) != 1 {
		return invalid("issuance must create exactly one coin")
	}
	out := tx.Outputs[0]
	if out.ValueCommitment != nil || out.Range != nil {
		return invalid("issuance output must not carry a value commitment")
	}
	want := map[int]fr.Element{
		utt.AttrPID:        pid,
		utt.AttrValue:      scalarOf(amount),
		utt.AttrType:       scalarOf(uint64(typ)),
		utt.AttrExpiration: scalarOf(exp),
	}
	if !publicEquals(&out.Request, want) {
		return invalid("issuance output attributes do not match the payload")
	}
	ctx, err := tx.Context(p)
	if err != nil {
		return err
	}
	rel, err := issueRelation(p, tx, nil)
	if err != nil {
		return err
	}
	return rel.Verify(proof, ctx)
}

func verifySpend(ctx context.Context, p *utt.GlobalParams, tx *Transaction, reg utt.Show, normal []*Input, budget *Input,
	burn uint64, proof *utt.Proof, now time.Time) error {
	if len(normal) == 0 || len(normal) > p.MaxInputs {
		return invalid("spend must have between 1 and %d inputs", p.MaxInputs)
	}
	inputs := append([]*Input{}, normal...)
	if budget != nil {
		inputs = append(inputs, budget)
	}
	if len(tx.Nullifiers) != len(inputs) {
		return invalid("header lists %d nullifiers for %d inputs", len(tx.Nullifiers), len(inputs))
	}
	seen := make(map[string]bool, len(inputs))
	for i, in := range inputs {
		if in == nil {
			return invalid("input %d missing", i)
		}
		if in.Nullifier.IsInfinity() {
			return invalid("input %d has a trivial nullifier", i)
		}
		n := in.Nullifier.Hex()
		if tx.Nullifiers[i] != n || seen[n] {
			return invalid("nullifier %d does not match its input", i)
		}
		seen[n] = true
	}
	for i, in := range normal {
		if in.Type != utt.NormalCoin || in.Expiration != 0 {
			return invalid("input %d is not a normal coin", i)
		}
	}
	if budget != nil {
		if budget.Type != utt.BudgetCoin {
			return invalid("budget input is not a budget coin")
		}
		if budget.Expiration < uint64(now.Unix()) {
			return errors.Wrap(utt.ErrInsufficientBudget, "budget coin expired")
		}
	}

	var normalOut, nonSelf []bls12377.G1Affine
	budgetOuts := 0
	var budgetOut bls12377.G1Affine
	for k, out := range tx.Outputs {
		if out.ValueCommitment == nil || out.Range == nil {
			return invalid("output %d lacks a value commitment or range proof", k)
		}
		var typ utt.CoinType
		var exp uint64
		for _, a := range out.Request.Public {
			switch a.Index {
			case utt.AttrType:
				typ = utt.CoinType(a.Value.Uint64())
			case utt.AttrExpiration:
				exp = a.Value.Uint64()
			}
		}
		want := map[int]fr.Element{utt.AttrType: scalarOf(uint64(typ)), utt.AttrExpiration: scalarOf(exp)}
		if !publicEquals(&out.Request, want) {
			return invalid("output %d must reveal exactly type and expiration", k)
		}
		switch typ {
		case utt.NormalCoin:
			if exp != 0 {
				return invalid("output %d: normal coin with expiration", k)
			}
			normalOut = append(normalOut, out.ValueCommitment.G1Affine)
			if !out.Self {
				nonSelf = append(nonSelf, out.ValueCommitment.G1Affine)
			}
		case utt.BudgetCoin:
			if budget == nil || !out.Self || exp != budget.Expiration {
				return invalid("output %d: unexpected budget coin", k)
			}
			budgetOuts++
			budgetOut = out.ValueCommitment.G1Affine
		default:
			return invalid("output %d: unknown coin type", k)
		}
	}
	if tx.Type == TypeTransfer && len(tx.Outputs) == 0 {
		return invalid("transfer without outputs")
	}
	if tx.Type == TypeBurn && len(nonSelf) > 0 {
		return invalid("burn may only return change to the sender")
	}
	if budget != nil && budgetOuts != 1 {
		return invalid("budget input needs exactly one budget output")
	}
	if budget == nil && p.UseBudget && len(nonSelf) > 0 {
		return errors.Wrap(utt.ErrInvalidCoinsInTransfer, "transfer to others without a budget coin")
	}

	bases := p.Bases()
	// Π vcm(normal in) = Gv^burn · Π vcm(normal out)
	lhs := make([]bls12377.G1Affine, 0, len(normal))
	for _, in := range normal {
		lhs = append(lhs, in.ValueCommitment.G1Affine)
	}
	var zero fr.Element
	rhs := append([]bls12377.G1Affine{bases.Commit(scalarOf(burn), zero)}, normalOut...)
	if !sumEqual(lhs, rhs) {
		return invalid("value is not conserved")
	}
	if budget != nil {
		if !sumEqual([]bls12377.G1Affine{budget.ValueCommitment.G1Affine}, append([]bls12377.G1Affine{budgetOut}, nonSelf...)) {
			return errors.Wrap(utt.ErrInsufficientBudget, "budget is not decremented by the amount sent")
		}
	}

	txCtx, err := tx.Context(p)
	if err != nil {
		return err
	}
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		if !p.Registration.VerifyShow(&reg) {
			return invalid("registration credential does not verify")
		}
		return nil
	})
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			if !p.Coin.VerifyShow(&in.Show) {
				return invalid("input %d: coin signature does not verify", i)
			}
			return nil
		})
	}
	for k, out := range tx.Outputs {
		k, out := k, out
		g.Go(func() error {
			return p.Range.Verify(bases, out.ValueCommitment.G1Affine, out.Range, rangeContext(txCtx, k))
		})
	}
	g.Go(func() error {
		rel, err := spendRelation(p, tx, nil)
		if err != nil {
			return err
		}
		return rel.Verify(proof, txCtx)
	})
	return g.Wait()
}

func sumEqual(a, b []bls12377.G1Affine) bool {
	var ja, jb bls12377.G1Jac
	for i := range a {
		ja.AddMixed(&a[i])
	}
	for i := range b {
		jb.AddMixed(&b[i])
	}
	var pa, pb bls12377.G1Affine
	pa.FromJacobian(&ja)
	pb.FromJacobian(&jb)
	return pa.Equal(&pb)
}
