// proof.go - The statements each transaction type proves.
//
// Prover and verifier call the same function; the prover passes its secrets,
// the verifier passes nil and gets a relation with zero witnesses.

package transactions

import (
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/pkg/errors"

	"privwallet/internal/utt"
)

type inputSecret struct {
	sn, value, t, z fr.Element
}

type outputSecret struct {
	pid, sn, value, z fr.Element
	r                 fr.Element
	k                 []fr.Element
}

type spendSecret struct {
	pid, s, t fr.Element
	inputs    []inputSecret
	outputs   []outputSecret
}

// spendInputs lists the inputs of a transfer or burn, budget last.
func spendInputs(tx *Transaction) (utt.Show, []*Input, error) {
	switch p := tx.Payload.(type) {
	case *TransferPayload:
		ins := append([]*Input{}, p.Inputs...)
		if p.Budget != nil {
			ins = append(ins, p.Budget)
		}
		return p.Registration, ins, nil
	case *BurnPayload:
		return p.Registration, p.Inputs, nil
	}
	return utt.Show{}, nil, errors.Wrap(utt.ErrInvalidTransaction, "not a spend")
}

// spendRelation covers transfers and burns:
//   - a registration show on hidden (pid, s)
//   - per input: a coin show with hidden (pid, sn, value), the nullifier
//     Nb = ζ^(s+sn) and the value commitment
//   - per output: a well-formed blind request on hidden (pid, sn, value),
//     with pid tied to the sender's for self outputs, and the value commitment
func spendRelation(p *utt.GlobalParams, tx *Transaction, sec *spendSecret) (*utt.Relation, error) {
	reg, inputs, err := spendInputs(tx)
	if err != nil {
		return nil, err
	}
	if sec != nil && (len(sec.inputs) != len(inputs) || len(sec.outputs) != len(tx.Outputs)) {
		return nil, errors.New("spend: secret shape does not match transaction")
	}
	val := func(f func(*spendSecret) fr.Element) fr.Element {
		if sec == nil {
			return fr.Element{}
		}
		return f(sec)
	}
	rel := utt.NewRelation("UTT-SPEND-V1")
	wPID := rel.Witness(val(func(s *spendSecret) fr.Element { return s.pid }))
	wS := rel.Witness(val(func(s *spendSecret) fr.Element { return s.s }))
	wT := rel.Witness(val(func(s *spendSecret) fr.Element { return s.t }))
	if err := p.Registration.BindShow(rel, &reg, nil, []utt.Witness{wPID, wS}, wT); err != nil {
		return nil, err
	}

	bases := p.Bases()
	nb := p.NullifierBase.G1Affine
	for i, in := range inputs {
		i := i
		in := in
		wSN := rel.Witness(val(func(s *spendSecret) fr.Element { return s.inputs[i].sn }))
		wVal := rel.Witness(val(func(s *spendSecret) fr.Element { return s.inputs[i].value }))
		wTi := rel.Witness(val(func(s *spendSecret) fr.Element { return s.inputs[i].t }))
		wZ := rel.Witness(val(func(s *spendSecret) fr.Element { return s.inputs[i].z }))
		public := inputPublic(in)
		if err := p.Coin.BindShow(rel, &in.Show, public, []utt.Witness{wPID, wSN, wVal}, wTi); err != nil {
			return nil, err
		}
		zeta := in.Nullifier.G1Affine
		rel.G1(nb, []bls12377.G1Affine{zeta, zeta}, wS, wSN)
		rel.G1(in.ValueCommitment.G1Affine, []bls12377.G1Affine{bases.G, bases.H}, wVal, wZ)
	}

	for k, out := range tx.Outputs {
		k := k
		if out.ValueCommitment == nil {
			return nil, errors.Wrapf(utt.ErrInvalidTransaction, "output %d has no value commitment", k)
		}
		wOwner := wPID
		if !out.Self {
			wOwner = rel.Witness(val(func(s *spendSecret) fr.Element { return s.outputs[k].pid }))
		}
		wR := rel.Witness(val(func(s *spendSecret) fr.Element { return s.outputs[k].r }))
		wSN := rel.Witness(val(func(s *spendSecret) fr.Element { return s.outputs[k].sn }))
		wVal := rel.Witness(val(func(s *spendSecret) fr.Element { return s.outputs[k].value }))
		wZ := rel.Witness(val(func(s *spendSecret) fr.Element { return s.outputs[k].z }))
		ks := make([]utt.Witness, 3)
		for j := range ks {
			j := j
			ks[j] = rel.Witness(val(func(s *spendSecret) fr.Element { return s.outputs[k].k[j] }))
		}
		if err := p.Coin.BindRequest(rel, &out.Request, wR, []utt.Witness{wOwner, wSN, wVal}, ks); err != nil {
			return nil, err
		}
		rel.G1(out.ValueCommitment.G1Affine, []bls12377.G1Affine{bases.G, bases.H}, wVal, wZ)
	}
	return rel, nil
}

func inputPublic(in *Input) []utt.PublicAttr {
	var typ, exp fr.Element
	typ.SetUint64(uint64(in.Type))
	exp.SetUint64(in.Expiration)
	return []utt.PublicAttr{
		{Index: utt.AttrType, Value: utt.Scalar{Element: typ}},
		{Index: utt.AttrExpiration, Value: utt.Scalar{Element: exp}},
	}
}

type issueSecret struct {
	r, sn, k fr.Element
}

// issueRelation covers mint and budget issuance: one output whose only hidden
// attribute is the serial number.
func issueRelation(p *utt.GlobalParams, tx *Transaction, sec *issueSecret) (*utt.Relation, error) {
	if len(tx.Outputs) != 1 {
		return nil, errors.Wrap(utt.ErrInvalidTransaction, "issuance must have exactly one output")
	}
	var r, sn, k fr.Element
	if sec != nil {
		r, sn, k = sec.r, sec.sn, sec.k
	}
	rel := utt.NewRelation("UTT-ISSUE-V1")
	wR := rel.Witness(r)
	wSN := rel.Witness(sn)
	wK := rel.Witness(k)
	if err := p.Coin.BindRequest(rel, &tx.Outputs[0].Request, wR, []utt.Witness{wSN}, []utt.Witness{wK}); err != nil {
		return nil, err
	}
	return rel, nil
}
