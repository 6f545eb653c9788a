// group.go - Serializable group elements and small helpers over BLS12-377.

package utt

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/pkg/errors"
)

var (
	g1Gen bls12377.G1Affine
	g2Gen bls12377.G2Affine
)

func init() {
	_, _, g1Gen, g2Gen = bls12377.Generators()
}

// Point1 is a G1 element that round-trips through CBOR as its compressed encoding.
type Point1 struct {
	bls12377.G1Affine
}

// Point2 is a G2 element that round-trips through CBOR as its compressed encoding.
type Point2 struct {
	bls12377.G2Affine
}

// Scalar is an fr element that round-trips as 32 big-endian bytes.
type Scalar struct {
	fr.Element
}

func (p Point1) MarshalBinary() ([]byte, error) {
	b := p.G1Affine.Bytes()
	return b[:], nil
}

func (p *Point1) UnmarshalBinary(data []byte) error {
	if len(data) != bls12377.SizeOfG1AffineCompressed {
		return errors.Errorf("g1: expected %d bytes, got %d", bls12377.SizeOfG1AffineCompressed, len(data))
	}
	if _, err := p.G1Affine.SetBytes(data); err != nil {
		return errors.Wrap(err, "g1")
	}
	return nil
}

// Hex is the canonical text form used for nullifiers and map keys.
func (p Point1) Hex() string {
	b := p.G1Affine.Bytes()
	return hex.EncodeToString(b[:])
}

func (p Point2) MarshalBinary() ([]byte, error) {
	b := p.G2Affine.Bytes()
	return b[:], nil
}

func (p *Point2) UnmarshalBinary(data []byte) error {
	if len(data) != bls12377.SizeOfG2AffineCompressed {
		return errors.Errorf("g2: expected %d bytes, got %d", bls12377.SizeOfG2AffineCompressed, len(data))
	}
	if _, err := p.G2Affine.SetBytes(data); err != nil {
		return errors.Wrap(err, "g2")
	}
	return nil
}

func (s Scalar) MarshalBinary() ([]byte, error) {
	b := s.Element.Bytes()
	return b[:], nil
}

func (s *Scalar) UnmarshalBinary(data []byte) error {
	if len(data) != fr.Bytes {
		return errors.Errorf("scalar: expected %d bytes, got %d", fr.Bytes, len(data))
	}
	if err := s.Element.SetBytesCanonical(data); err != nil {
		return errors.Wrap(err, "scalar")
	}
	return nil
}

func g1(p bls12377.G1Affine) Point1 { return Point1{p} }
func g2(p bls12377.G2Affine) Point2 { return Point2{p} }
func sc(e fr.Element) Scalar        { return Scalar{e} }

func randomScalar() (fr.Element, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return e, errors.Wrap(err, "sample scalar")
	}
	return e, nil
}

func mustRandomScalar() fr.Element {
	e, err := randomScalar()
	if err != nil {
		panic(err)
	}
	return e
}

// randomBytes generates random bytes of specified length using crypto/rand.
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "read randomness")
	}
	return b, nil
}

func scalarFromUint64(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

func g1Mul(p *bls12377.G1Affine, s *fr.Element) bls12377.G1Affine {
	var r bls12377.G1Affine
	r.ScalarMultiplication(p, s.BigInt(new(big.Int)))
	return r
}

func g2Mul(p *bls12377.G2Affine, s *fr.Element) bls12377.G2Affine {
	var r bls12377.G2Affine
	r.ScalarMultiplication(p, s.BigInt(new(big.Int)))
	return r
}

func g1Add(points ...bls12377.G1Affine) bls12377.G1Affine {
	var acc bls12377.G1Jac
	for i := range points {
		acc.AddMixed(&points[i])
	}
	var r bls12377.G1Affine
	r.FromJacobian(&acc)
	return r
}

func g2Add(points ...bls12377.G2Affine) bls12377.G2Affine {
	var acc bls12377.G2Jac
	for i := range points {
		acc.AddMixed(&points[i])
	}
	var r bls12377.G2Affine
	r.FromJacobian(&acc)
	return r
}

func g1Neg(p bls12377.G1Affine) bls12377.G1Affine {
	var r bls12377.G1Affine
	r.Neg(&p)
	return r
}

func g2Neg(p bls12377.G2Affine) bls12377.G2Affine {
	var r bls12377.G2Affine
	r.Neg(&p)
	return r
}

func g1Sub(a, b bls12377.G1Affine) bls12377.G1Affine {
	return g1Add(a, g1Neg(b))
}

// g1MultiExp computes Π bases[i]^scalars[i].
func g1MultiExp(bases []bls12377.G1Affine, scalars []fr.Element) bls12377.G1Affine {
	terms := make([]bls12377.G1Affine, len(bases))
	for i := range bases {
		terms[i] = g1Mul(&bases[i], &scalars[i])
	}
	return g1Add(terms...)
}

func g2MultiExp(bases []bls12377.G2Affine, scalars []fr.Element) bls12377.G2Affine {
	terms := make([]bls12377.G2Affine, len(bases))
	for i := range bases {
		terms[i] = g2Mul(&bases[i], &scalars[i])
	}
	return g2Add(terms...)
}

// hashToG1 derives a point nobody knows the discrete log of.
func hashToG1(dst string, parts ...[]byte) bls12377.G1Affine {
	var msg []byte
	for _, p := range parts {
		msg = append(msg, p...)
	}
	p, err := bls12377.HashToG1(msg, []byte(dst))
	if err != nil {
		// only fails on an oversized dst
		panic(err)
	}
	return p
}

// lagrangeAtZero returns λ_i for interpolation at 0 over the 1-based indices.
func lagrangeAtZero(indices []int) []fr.Element {
	out := make([]fr.Element, len(indices))
	for i, xi := range indices {
		num, den := fr.One(), fr.One()
		fxi := scalarFromUint64(uint64(xi))
		for j, xj := range indices {
			if i == j {
				continue
			}
			fxj := scalarFromUint64(uint64(xj))
			num.Mul(&num, &fxj)
			var d fr.Element
			d.Sub(&fxj, &fxi)
			den.Mul(&den, &d)
		}
		den.Inverse(&den)
		out[i].Mul(&num, &den)
	}
	return out
}

// evalPoly evaluates coeffs (constant term first) at x.
func evalPoly(coeffs []fr.Element, x int) fr.Element {
	fx := scalarFromUint64(uint64(x))
	var acc fr.Element
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc.Mul(&acc, &fx)
		acc.Add(&acc, &coeffs[i])
	}
	return acc
}

func pairingCheckEqual(a bls12377.G1Affine, b bls12377.G2Affine, c bls12377.G1Affine, d bls12377.G2Affine) bool {
	// e(a, b) == e(c, d)  <=>  e(a, b) * e(-c, d) == 1
	ok, err := bls12377.PairingCheck(
		[]bls12377.G1Affine{a, g1Neg(c)},
		[]bls12377.G2Affine{b, d},
	)
	return err == nil && ok
}
