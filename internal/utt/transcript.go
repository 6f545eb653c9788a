package utt

import (
	"encoding/binary"
	"hash"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"golang.org/x/crypto/sha3"
)

// transcript absorbs length-prefixed items and squeezes Fiat-Shamir challenges.
type transcript struct {
	h hash.Hash
}

func newTranscript(label string) *transcript {
	t := &transcript{h: sha3.New256()}
	t.bytes([]byte(label))
	return t
}

func (t *transcript) bytes(b []byte) {
	var l [8]byte
	binary.BigEndian.PutUint64(l[:], uint64(len(b)))
	t.h.Write(l[:])
	t.h.Write(b)
}

func (t *transcript) uint(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	t.bytes(b[:])
}

func (t *transcript) g1(points ...bls12377.G1Affine) {
	for i := range points {
		b := points[i].Bytes()
		t.bytes(b[:])
	}
}

func (t *transcript) g2(points ...bls12377.G2Affine) {
	for i := range points {
		b := points[i].Bytes()
		t.bytes(b[:])
	}
}

func (t *transcript) scalar(e fr.Element) {
	b := e.Bytes()
	t.bytes(b[:])
}

func (t *transcript) challenge() fr.Element {
	sum := t.h.Sum(nil)
	var c fr.Element
	c.SetBytes(sum)
	return c
}

// Digest hashes arbitrary byte strings with the same framing as the transcripts.
func Digest(label string, parts ...[]byte) []byte {
	t := newTranscript(label)
	for _, p := range parts {
		t.bytes(p)
	}
	return t.h.Sum(nil)
}
