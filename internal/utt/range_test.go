package utt

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseRange(t *testing.T, backend RangeBackend, bits int) {
	p, _ := testParams(t)
	b := p.Bases()
	z := mustRandomScalar()
	v := uint64(1)<<bits - 1
	vcm := b.Commit(scalarFromUint64(v), z)

	proof, err := backend.Prove(b, v, z, []byte("ctx"))
	require.NoError(t, err)
	require.NoError(t, backend.Verify(b, vcm, proof, []byte("ctx")))

	other := b.Commit(scalarFromUint64(v-1), z)
	err = backend.Verify(b, other, proof, []byte("ctx"))
	assert.True(t, errors.Is(err, ErrInvalidTransaction))

	_, err = backend.Prove(b, v+1, z, []byte("ctx"))
	assert.Error(t, err, "value above range")
}

func TestSigmaRange(t *testing.T) {
	exerciseRange(t, NewSigmaRange(8), 8)
}

func TestSigmaRangeBindsContext(t *testing.T) {
	p, _ := testParams(t)
	b := p.Bases()
	r := NewSigmaRange(8)
	z := mustRandomScalar()
	proof, err := r.Prove(b, 0, z, []byte("a"))
	require.NoError(t, err)
	var zero fr.Element
	vcm := b.Commit(zero, z)
	require.NoError(t, r.Verify(b, vcm, proof, []byte("a")))
	assert.Error(t, r.Verify(b, vcm, proof, []byte("b")))

	proof.Bits = proof.Bits[:7]
	assert.Error(t, r.Verify(b, vcm, proof, []byte("a")))
}

func TestGroth16Range(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}
	backend, err := NewGroth16Range(8, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "groth16", backend.Name())
	exerciseRange(t, backend, 8)
}
