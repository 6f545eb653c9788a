package utt

import (
	"testing"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Pedersen opening plus an equality of discrete logs across G1 and G2.
func pedersenRelation(cm, y1 bls12377.G1Affine, y2 bls12377.G2Affine, x, r fr.Element) *Relation {
	h := hashToG1("relation-test", []byte("h"))
	rel := NewRelation("test")
	wx := rel.Witness(x)
	wr := rel.Witness(r)
	rel.G1(cm, []bls12377.G1Affine{g1Gen, h}, wx, wr)
	rel.G1(y1, []bls12377.G1Affine{g1Gen}, wx)
	rel.G2(y2, []bls12377.G2Affine{g2Gen}, wx)
	return rel
}

func TestRelationProveVerify(t *testing.T) {
	x, r := mustRandomScalar(), mustRandomScalar()
	h := hashToG1("relation-test", []byte("h"))
	cm := g1MultiExp([]bls12377.G1Affine{g1Gen, h}, []fr.Element{x, r})
	y1 := g1Mul(&g1Gen, &x)
	y2 := g2Mul(&g2Gen, &x)

	proof, err := pedersenRelation(cm, y1, y2, x, r).Prove([]byte("context"))
	require.NoError(t, err)

	var zero fr.Element
	verifier := pedersenRelation(cm, y1, y2, zero, zero)
	require.NoError(t, verifier.Verify(proof, []byte("context")))

	err = verifier.Verify(proof, []byte("other"))
	assert.True(t, errors.Is(err, ErrInvalidTransaction))

	bad := *proof
	bad.S = append([]Scalar{}, proof.S...)
	bad.S[0] = sc(mustRandomScalar())
	assert.Error(t, verifier.Verify(&bad, []byte("context")))

	assert.Error(t, verifier.Verify(nil, []byte("context")))
}

func TestRelationRejectsInconsistentWitness(t *testing.T) {
	x, r, other := mustRandomScalar(), mustRandomScalar(), mustRandomScalar()
	h := hashToG1("relation-test", []byte("h"))
	cm := g1MultiExp([]bls12377.G1Affine{g1Gen, h}, []fr.Element{x, r})
	// y2 uses a different exponent, so no single witness satisfies both.
	y1 := g1Mul(&g1Gen, &x)
	y2 := g2Mul(&g2Gen, &other)

	proof, err := pedersenRelation(cm, y1, y2, x, r).Prove(nil)
	require.NoError(t, err)
	var zero fr.Element
	assert.Error(t, pedersenRelation(cm, y1, y2, zero, zero).Verify(proof, nil))
}

func TestDigestFraming(t *testing.T) {
	a := Digest("l", []byte("ab"), []byte("c"))
	b := Digest("l", []byte("a"), []byte("bc"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Digest("l", []byte("ab"), []byte("c")))
}
