// range.go - Range proofs on Pedersen value commitments vcm = Gv^v · H^z.
//
// The default backend decomposes v into bits, commits to every bit and proves
// each commitment opens to 0 or 1 with a Fiat-Shamir OR-proof. The Groth16
// backend in groth16.go proves the same statement with a SNARK.

package utt

import (
	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/pkg/errors"
)

const rangeDST = "UTT-RANGE-V1"

// ValueBases are the two generators of value commitments.
type ValueBases struct {
	G bls12377.G1Affine
	H bls12377.G1Affine
}

// RangeProof carries the output of whichever backend produced it.
type RangeProof struct {
	Bits    []BitProof `cbor:"1,keyasint,omitempty"`
	Groth16 []byte     `cbor:"2,keyasint,omitempty"`
}

// BitProof shows C = H^z or C = Gv·H^z. C0 + C1 must equal the batch challenge.
type BitProof struct {
	C  Point1 `cbor:"1,keyasint"`
	C0 Scalar `cbor:"2,keyasint"`
	C1 Scalar `cbor:"3,keyasint"`
	S0 Scalar `cbor:"4,keyasint"`
	S1 Scalar `cbor:"5,keyasint"`
}

// RangeBackend proves 0 <= v < 2^bits for a value commitment.
type RangeBackend interface {
	Name() string
	Prove(b ValueBases, v uint64, z fr.Element, context []byte) (*RangeProof, error)
	Verify(b ValueBases, vcm bls12377.G1Affine, proof *RangeProof, context []byte) error
}

// Bases returns the value commitment generators.
func (p *GlobalParams) Bases() ValueBases {
	return ValueBases{G: p.ValueBase.G1Affine, H: p.BlindBase.G1Affine}
}

// Commit computes Gv^v · H^z.
func (b ValueBases) Commit(v, z fr.Element) bls12377.G1Affine {
	return g1MultiExp([]bls12377.G1Affine{b.G, b.H}, []fr.Element{v, z})
}

// SigmaRange is the bit-decomposition backend.
type SigmaRange struct {
	bits int
}

func NewSigmaRange(bits int) *SigmaRange {
	return &SigmaRange{bits: bits}
}

func (r *SigmaRange) Name() string { return "sigma" }

// simulated computes T = H^s · Y^c, the verifier's view of one branch.
func simulated(h, y bls12377.G1Affine, s, c fr.Element) bls12377.G1Affine {
	return g1Add(g1Mul(&h, &s), g1Mul(&y, &c))
}

func (r *SigmaRange) Prove(b ValueBases, v uint64, z fr.Element, context []byte) (*RangeProof, error) {
	if r.bits < 64 && v>>uint(r.bits) != 0 {
		return nil, errors.Errorf("range: value does not fit in %d bits", r.bits)
	}
	// z = Σ 2^i z_i with z_0 fixed by the others
	blinds := make([]fr.Element, r.bits)
	var rest, pow fr.Element
	pow.SetOne()
	for i := 1; i < r.bits; i++ {
		pow.Double(&pow)
		zi, err := randomScalar()
		if err != nil {
			return nil, err
		}
		blinds[i] = zi
		var t fr.Element
		t.Mul(&zi, &pow)
		rest.Add(&rest, &t)
	}
	blinds[0].Sub(&z, &rest)

	type branch struct {
		bit        uint64
		k          fr.Element
		cSim, sSim fr.Element
	}
	proofs := make([]BitProof, r.bits)
	state := make([]branch, r.bits)
	tr := newTranscript(rangeDST)
	tr.bytes(context)
	for i := 0; i < r.bits; i++ {
		bit := (v >> uint(i)) & 1
		c := g1Mul(&b.H, &blinds[i])
		if bit == 1 {
			c = g1Add(c, b.G)
		}
		proofs[i].C = g1(c)

		var st branch
		var err error
		st.bit = bit
		if st.k, err = randomScalar(); err != nil {
			return nil, err
		}
		if st.cSim, err = randomScalar(); err != nil {
			return nil, err
		}
		if st.sSim, err = randomScalar(); err != nil {
			return nil, err
		}
		state[i] = st

		actual := g1Mul(&b.H, &st.k)
		var t0, t1 bls12377.G1Affine
		if bit == 0 {
			t0 = actual
			t1 = simulated(b.H, g1Sub(c, b.G), st.sSim, st.cSim)
		} else {
			t0 = simulated(b.H, c, st.sSim, st.cSim)
			t1 = actual
		}
		tr.g1(c, t0, t1)
	}
	ch := tr.challenge()
	for i, st := range state {
		var cReal, sReal, cz fr.Element
		cReal.Sub(&ch, &st.cSim)
		cz.Mul(&cReal, &blinds[i])
		sReal.Sub(&st.k, &cz)
		if st.bit == 0 {
			proofs[i].C0, proofs[i].S0 = sc(cReal), sc(sReal)
			proofs[i].C1, proofs[i].S1 = sc(st.cSim), sc(st.sSim)
		} else {
			proofs[i].C0, proofs[i].S0 = sc(st.cSim), sc(st.sSim)
			proofs[i].C1, proofs[i].S1 = sc(cReal), sc(sReal)
		}
	}
	return &RangeProof{Bits: proofs}, nil
}

func (r *SigmaRange) Verify(b ValueBases, vcm bls12377.G1Affine, proof *RangeProof, context []byte) error {
	if proof == nil || len(proof.Bits) != r.bits {
		return errors.Wrap(ErrInvalidTransaction, "range: wrong number of bits")
	}
	tr := newTranscript(rangeDST)
	tr.bytes(context)
	points := make([]bls12377.G1Affine, r.bits)
	pows := make([]fr.Element, r.bits)
	var pow fr.Element
	pow.SetOne()
	for i, bp := range proof.Bits {
		c := bp.C.G1Affine
		points[i], pows[i] = c, pow
		pow.Double(&pow)
		t0 := simulated(b.H, c, bp.S0.Element, bp.C0.Element)
		t1 := simulated(b.H, g1Sub(c, b.G), bp.S1.Element, bp.C1.Element)
		tr.g1(c, t0, t1)
	}
	ch := tr.challenge()
	for _, bp := range proof.Bits {
		var sum fr.Element
		sum.Add(&bp.C0.Element, &bp.C1.Element)
		if !sum.Equal(&ch) {
			return errors.Wrap(ErrInvalidTransaction, "range: bit proof does not verify")
		}
	}
	// Π C_i^(2^i) must reopen the value commitment
	recomposed := g1MultiExp(points, pows)
	if !recomposed.Equal(&vcm) {
		return errors.Wrap(ErrInvalidTransaction, "range: bits do not recompose the commitment")
	}
	return nil
}
