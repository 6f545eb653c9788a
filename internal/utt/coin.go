// coin.go - Coin type, nullifiers and identity hashing.
//
// A Coin is a signed attribute vector [pid, sn, value, type, expiration].
// Its nullifier Nb^(1/(s+sn)) can only be computed by the owner, who knows the
// registration PRF key s, and is revealed exactly once when the coin is spent.

package utt

import (
	"time"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr/mimc"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// CoinType distinguishes spendable value from spending allowance.
type CoinType uint8

const (
	NormalCoin CoinType = 1
	BudgetCoin CoinType = 2
)

func (t CoinType) String() string {
	switch t {
	case NormalCoin:
		return "normal"
	case BudgetCoin:
		return "budget"
	default:
		return "unknown"
	}
}

// Coin is an owned, signed unit of value.
type Coin struct {
	PID        Scalar     `cbor:"1,keyasint"`
	SN         Scalar     `cbor:"2,keyasint"`
	Value      uint64     `cbor:"3,keyasint"`
	Type       CoinType   `cbor:"4,keyasint"`
	Expiration uint64     `cbor:"5,keyasint"`
	Sig        *Signature `cbor:"6,keyasint,omitempty"`
	Nullifier  string     `cbor:"7,keyasint,omitempty"`
}

// Attributes returns the signed vector.
func (c *Coin) Attributes() []fr.Element {
	return CoinAttributes(c.PID.Element, c.SN.Element, c.Value, c.Type, c.Expiration)
}

// CoinAttributes builds the signed vector from its parts.
func CoinAttributes(pid, sn fr.Element, value uint64, typ CoinType, exp uint64) []fr.Element {
	attrs := make([]fr.Element, numCoinAttrs)
	attrs[AttrPID] = pid
	attrs[AttrSN] = sn
	attrs[AttrValue] = scalarFromUint64(value)
	attrs[AttrType] = scalarFromUint64(uint64(typ))
	attrs[AttrExpiration] = scalarFromUint64(exp)
	return attrs
}

// IsExpired reports whether a budget coin is past its expiration.
func (c *Coin) IsExpired(now time.Time) bool {
	return c.Type == BudgetCoin && uint64(now.Unix()) > c.Expiration
}

// IsSpendable reports whether the coin carries a valid signature and, for a
// budget coin, has not expired.
func (c *Coin) IsSpendable(p *GlobalParams, now time.Time) bool {
	if c.Sig == nil || c.IsExpired(now) {
		return false
	}
	return p.Coin.Verify(c.Sig, c.Attributes())
}

// Clone returns a deep copy.
func (c *Coin) Clone() *Coin {
	cp := *c
	cp.Sig = c.Sig.Clone()
	return &cp
}

// Marshal encodes the coin.
func (c *Coin) Marshal() ([]byte, error) {
	return cbor.Marshal(c)
}

// UnmarshalCoin decodes a coin. Any structural problem is ErrMalformedCoin.
func UnmarshalCoin(data []byte) (*Coin, error) {
	var c Coin
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(ErrMalformedCoin, err.Error())
	}
	if c.Type != NormalCoin && c.Type != BudgetCoin {
		return nil, errors.Wrapf(ErrMalformedCoin, "unknown coin type %d", c.Type)
	}
	if c.Type == NormalCoin && c.Expiration != 0 {
		return nil, errors.Wrap(ErrMalformedCoin, "normal coin with expiration")
	}
	return &c, nil
}

// DeriveNullifier computes Nb^(1/(s+sn)) for the coin owned by the holder of s.
func DeriveNullifier(p *GlobalParams, s fr.Element, c *Coin) Point1 {
	return g1(nullifierPoint(p, s, c.SN.Element))
}

func nullifierPoint(p *GlobalParams, s, sn fr.Element) bls12377.G1Affine {
	var e fr.Element
	e.Add(&s, &sn)
	e.Inverse(&e)
	return g1Mul(&p.NullifierBase.G1Affine, &e)
}

// HashPID maps an identity string to its attribute value.
func HashPID(identity string) fr.Element {
	h := mimc.NewMiMC()
	writeField(h, []byte("UTT-PID"))
	writeField(h, []byte(identity))
	var e fr.Element
	e.SetBytes(h.Sum(nil))
	return e
}

// DeriveS2 is the registrars' deterministic contribution to the PRF key.
func DeriveS2(pid fr.Element, rcm1 Point1) fr.Element {
	h := mimc.NewMiMC()
	writeField(h, []byte("UTT-S2"))
	b := pid.Bytes()
	h.Write(b[:])
	cm := rcm1.Bytes()
	writeField(h, cm[:])
	var e fr.Element
	e.SetBytes(h.Sum(nil))
	return e
}

// writeField absorbs arbitrary bytes into MiMC as canonical field elements,
// 31 bytes per block.
func writeField(h interface{ Write([]byte) (int, error) }, data []byte) {
	var n fr.Element
	n.SetUint64(uint64(len(data)))
	nb := n.Bytes()
	h.Write(nb[:])
	for len(data) > 0 {
		k := 31
		if len(data) < k {
			k = len(data)
		}
		var e fr.Element
		e.SetBytes(data[:k])
		b := e.Bytes()
		h.Write(b[:])
		data = data[k:]
	}
}
