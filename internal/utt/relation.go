// relation.go - Fiat-Shamir Schnorr proofs for conjunctions of linear relations
// over G1 and G2. Prover and verifier build the same Relation; only the prover
// supplies witness values.

package utt

import (
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/pkg/errors"
)

// Witness indexes a secret scalar inside a Relation.
type Witness int

type g1Statement struct {
	lhs   bls12377.G1Affine
	bases []bls12377.G1Affine
	ws    []Witness
}

type g2Statement struct {
	lhs   bls12377.G2Affine
	bases []bls12377.G2Affine
	ws    []Witness
}

// Relation is a set of statements lhs = Π base^w sharing one witness vector.
type Relation struct {
	label  string
	values []fr.Element
	g1s    []g1Statement
	g2s    []g2Statement
}

// Proof is a single challenge with one response per witness.
type Proof struct {
	C Scalar   `cbor:"1,keyasint"`
	S []Scalar `cbor:"2,keyasint"`
}

func NewRelation(label string) *Relation {
	return &Relation{label: label}
}

// Witness allocates a new witness. Verifiers pass the zero value.
func (r *Relation) Witness(v fr.Element) Witness {
	r.values = append(r.values, v)
	return Witness(len(r.values) - 1)
}

func (r *Relation) G1(lhs bls12377.G1Affine, bases []bls12377.G1Affine, ws ...Witness) {
	r.g1s = append(r.g1s, g1Statement{lhs: lhs, bases: bases, ws: ws})
}

func (r *Relation) G2(lhs bls12377.G2Affine, bases []bls12377.G2Affine, ws ...Witness) {
	r.g2s = append(r.g2s, g2Statement{lhs: lhs, bases: bases, ws: ws})
}

func (r *Relation) check() error {
	for _, s := range r.g1s {
		if len(s.bases) != len(s.ws) {
			return errors.New("relation: bases and witnesses differ in length")
		}
	}
	for _, s := range r.g2s {
		if len(s.bases) != len(s.ws) {
			return errors.New("relation: bases and witnesses differ in length")
		}
	}
	return nil
}

func (r *Relation) challenge(context []byte, t1 []bls12377.G1Affine, t2 []bls12377.G2Affine) fr.Element {
	t := newTranscript(r.label)
	t.bytes(context)
	t.uint(uint64(len(r.values)))
	for i, s := range r.g1s {
		t.g1(s.lhs)
		t.g1(s.bases...)
		for _, w := range s.ws {
			t.uint(uint64(w))
		}
		t.g1(t1[i])
	}
	for i, s := range r.g2s {
		t.g2(s.lhs)
		t.g2(s.bases...)
		for _, w := range s.ws {
			t.uint(uint64(w))
		}
		t.g2(t2[i])
	}
	return t.challenge()
}

// Prove produces a proof bound to context.
func (r *Relation) Prove(context []byte) (*Proof, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	nonces := make([]fr.Element, len(r.values))
	for i := range nonces {
		k, err := randomScalar()
		if err != nil {
			return nil, err
		}
		nonces[i] = k
	}
	t1 := make([]bls12377.G1Affine, len(r.g1s))
	for i, s := range r.g1s {
		t1[i] = g1MultiExp(s.bases, pick(nonces, s.ws))
	}
	t2 := make([]bls12377.G2Affine, len(r.g2s))
	for i, s := range r.g2s {
		t2[i] = g2MultiExp(s.bases, pick(nonces, s.ws))
	}
	c := r.challenge(context, t1, t2)
	resp := make([]Scalar, len(r.values))
	for i := range r.values {
		var cw fr.Element
		cw.Mul(&c, &r.values[i])
		resp[i].Element.Sub(&nonces[i], &cw)
	}
	return &Proof{C: sc(c), S: resp}, nil
}

// Verify checks p against the relation and context.
func (r *Relation) Verify(p *Proof, context []byte) error {
	if err := r.check(); err != nil {
		return err
	}
	if p == nil || len(p.S) != len(r.values) {
		return errors.Wrap(ErrInvalidTransaction, "proof has wrong number of responses")
	}
	resp := make([]fr.Element, len(p.S))
	for i := range p.S {
		resp[i] = p.S[i].Element
	}
	c := p.C.Element
	t1 := make([]bls12377.G1Affine, len(r.g1s))
	for i, s := range r.g1s {
		// T = lhs^c · Π base^s
		bases := append([]bls12377.G1Affine{s.lhs}, s.bases...)
		scalars := append([]fr.Element{c}, pick(resp, s.ws)...)
		t1[i] = g1MultiExp(bases, scalars)
	}
	t2 := make([]bls12377.G2Affine, len(r.g2s))
	for i, s := range r.g2s {
		bases := append([]bls12377.G2Affine{s.lhs}, s.bases...)
		scalars := append([]fr.Element{c}, pick(resp, s.ws)...)
		t2[i] = g2MultiExp(bases, scalars)
	}
	expected := r.challenge(context, t1, t2)
	if !expected.Equal(&c) {
		return errors.Wrapf(ErrInvalidTransaction, "%s: proof does not verify", r.label)
	}
	return nil
}

func pick(values []fr.Element, ws []Witness) []fr.Element {
	out := make([]fr.Element, len(ws))
	for i, w := range ws {
		out[i] = values[w]
	}
	return out
}
