package utt

import (
	"testing"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(t *testing.T) (*GlobalParams, []*ValidatorKey) {
	t.Helper()
	p, keys, err := Setup(SetupConfig{N: 4, F: 1, RangeBits: 8})
	require.NoError(t, err)
	return p, keys
}

func randomAttrs(n int) []fr.Element {
	out := make([]fr.Element, n)
	for i := range out {
		out[i] = mustRandomScalar()
	}
	return out
}

func blindSignWith(t *testing.T, s *Scheme, keys []*SigningKey, attrs []fr.Element, public []int) (*BlindRequest, map[int]bls12377.G1Affine) {
	t.Helper()
	req, sec, err := s.PrepareBlind(attrs, public)
	require.NoError(t, err)
	h := req.H()
	out := make(map[int]bls12377.G1Affine)
	for _, k := range keys {
		share, err := s.BlindSign(k, req)
		require.NoError(t, err)
		sigma := share.Unblind(sec.D.Element)
		require.True(t, s.VerifyShare(k.Index, h, sigma, attrs), "share %d", k.Index)
		out[k.Index] = sigma
	}
	return req, out
}

func TestThresholdBlindSignature(t *testing.T) {
	p, keys := testParams(t)
	attrs := randomAttrs(p.Coin.Size())
	coinKeys := []*SigningKey{keys[0].Coin, keys[1].Coin, keys[2].Coin, keys[3].Coin}
	req, shares := blindSignWith(t, p.Coin, coinKeys, attrs, []int{AttrType, AttrExpiration})

	// Every pair of validators yields the same signature.
	var first *Signature
	for i := 1; i <= 4; i++ {
		for j := i + 1; j <= 4; j++ {
			sig := &Signature{H: g1(req.H()), S: g1(Combine(map[int]bls12377.G1Affine{i: shares[i], j: shares[j]}))}
			require.True(t, p.Coin.Verify(sig, attrs), "pair %d,%d", i, j)
			if first == nil {
				first = sig
			} else {
				assert.True(t, first.S.Equal(&sig.S.G1Affine))
			}
		}
	}

	// A single share is not a signature.
	single := &Signature{H: g1(req.H()), S: g1(Combine(map[int]bls12377.G1Affine{1: shares[1]}))}
	assert.False(t, p.Coin.Verify(single, attrs))

	other := append([]fr.Element{}, attrs...)
	other[AttrValue] = mustRandomScalar()
	assert.False(t, p.Coin.Verify(first, other))

	rs, err := first.Randomize()
	require.NoError(t, err)
	assert.True(t, p.Coin.Verify(rs, attrs))
	assert.False(t, rs.H.Equal(&first.H.G1Affine))
}

func TestBlindSignShift(t *testing.T) {
	p, keys := testParams(t)
	s := p.Registration
	attrs := randomAttrs(s.Size())
	req, sec, err := s.PrepareBlind(attrs, []int{RegAttrPID})
	require.NoError(t, err)

	shift := mustRandomScalar()
	shares := make(map[int]bls12377.G1Affine)
	for _, k := range keys[:2] {
		bs, err := s.BlindSign(k.Registration, req, PublicAttr{Index: RegAttrPRF, Value: sc(shift)})
		require.NoError(t, err)
		shares[k.Index] = bs.Unblind(sec.D.Element)
	}
	sig := &Signature{H: g1(req.H()), S: g1(Combine(shares))}
	shifted := append([]fr.Element{}, attrs...)
	shifted[RegAttrPRF].Add(&shifted[RegAttrPRF], &shift)
	assert.True(t, s.Verify(sig, shifted))
	assert.False(t, s.Verify(sig, attrs))

	_, err = s.BlindSign(keys[0].Registration, req, PublicAttr{Index: 7, Value: sc(shift)})
	assert.Error(t, err)
}

func TestShowProvesKnowledge(t *testing.T) {
	p, keys := testParams(t)
	attrs := CoinAttributes(mustRandomScalar(), mustRandomScalar(), 12, NormalCoin, 0)
	req, shares := blindSignWith(t, p.Coin, []*SigningKey{keys[0].Coin, keys[3].Coin}, attrs, nil)
	sig := &Signature{H: g1(req.H()), S: g1(Combine(shares))}
	require.True(t, p.Coin.Verify(sig, attrs))

	show, tBlind, err := p.Coin.NewShow(sig, attrs)
	require.NoError(t, err)
	require.True(t, p.Coin.VerifyShow(show))

	public := []PublicAttr{{Index: AttrType, Value: sc(attrs[AttrType])}, {Index: AttrExpiration, Value: sc(attrs[AttrExpiration])}}
	build := func(values []fr.Element, tv fr.Element) *Relation {
		rel := NewRelation("show-test")
		ws := make([]Witness, 0, 3)
		for _, j := range []int{AttrPID, AttrSN, AttrValue} {
			ws = append(ws, rel.Witness(values[j]))
		}
		require.NoError(t, p.Coin.BindShow(rel, show, public, ws, rel.Witness(tv)))
		return rel
	}
	proof, err := build(attrs, tBlind).Prove([]byte("ctx"))
	require.NoError(t, err)
	var zero fr.Element
	assert.NoError(t, build(make([]fr.Element, len(attrs)), zero).Verify(proof, []byte("ctx")))

	// A show over the wrong public attributes does not verify.
	wrong := CoinAttributes(attrs[AttrPID], attrs[AttrSN], 12, BudgetCoin, 0)
	badPublic := []PublicAttr{{Index: AttrType, Value: sc(wrong[AttrType])}, {Index: AttrExpiration, Value: sc(wrong[AttrExpiration])}}
	rel := NewRelation("show-test")
	ws := []Witness{rel.Witness(zero), rel.Witness(zero), rel.Witness(zero)}
	require.NoError(t, p.Coin.BindShow(rel, show, badPublic, ws, rel.Witness(zero)))
	assert.Error(t, rel.Verify(proof, []byte("ctx")))

	show.Nu = show.H
	assert.False(t, p.Coin.VerifyShow(show))
}

func TestPrepareBlindRejectsBadShape(t *testing.T) {
	p, _ := testParams(t)
	_, _, err := p.Coin.PrepareBlind(randomAttrs(2), nil)
	assert.Error(t, err)
	_, _, err = p.Coin.PrepareBlind(randomAttrs(p.Coin.Size()), []int{9})
	assert.Error(t, err)
}
