package utt

import (
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Opening is everything a recipient needs to turn an output into a coin:
// the attribute values, the commitment randomness and the ElGamal secret
// that unblinds the validators' shares.
type Opening struct {
	PID        Scalar   `cbor:"1,keyasint"`
	SN         Scalar   `cbor:"2,keyasint"`
	Value      uint64   `cbor:"3,keyasint"`
	Type       CoinType `cbor:"4,keyasint"`
	Expiration uint64   `cbor:"5,keyasint"`
	R          Scalar   `cbor:"6,keyasint"`
	D          Scalar   `cbor:"7,keyasint"`
}

func (o *Opening) Attributes() []fr.Element {
	return CoinAttributes(o.PID.Element, o.SN.Element, o.Value, o.Type, o.Expiration)
}

func (o *Opening) Marshal() ([]byte, error) {
	return cbor.Marshal(o)
}

func UnmarshalOpening(data []byte) (*Opening, error) {
	var o Opening
	if err := cbor.Unmarshal(data, &o); err != nil {
		return nil, errors.Wrap(err, "decode opening")
	}
	return &o, nil
}

// Matches checks that the opening explains req.
func (o *Opening) Matches(s *Scheme, req *BlindRequest) bool {
	attrs := o.Attributes()
	for _, a := range req.Public {
		if a.Index < 0 || a.Index >= len(attrs) || !attrs[a.Index].Equal(&a.Value.Element) {
			return false
		}
	}
	cm, err := s.CommitHidden(attrs, o.R.Element, req.Public)
	if err != nil {
		return false
	}
	if !cm.Equal(&req.Commitment.G1Affine) {
		return false
	}
	gamma := g1Mul(&g1Gen, &o.D.Element)
	return gamma.Equal(&req.Gamma.G1Affine)
}

// Coin builds the (unsigned) coin described by the opening.
func (o *Opening) Coin() *Coin {
	return &Coin{PID: o.PID, SN: o.SN, Value: o.Value, Type: o.Type, Expiration: o.Expiration}
}
