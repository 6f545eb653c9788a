// tx.go - Transaction types and encoding.
//
// A Transaction is a common header (type, revealed nullifiers, outputs) plus a
// type-specific payload. Mint and budget transactions reveal no coin
// nullifiers; their header carries a one-time replay tag instead.

package transactions

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"privwallet/internal/utt"
)

// Type identifies the payload of a transaction.
type Type uint8

const (
	TypeMint Type = iota + 1
	TypeBurn
	TypeTransfer
	TypeBudget
)

func (t Type) String() string {
	switch t {
	case TypeMint:
		return "mint"
	case TypeBurn:
		return "burn"
	case TypeTransfer:
		return "transfer"
	case TypeBudget:
		return "budget"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	switch s {
	case "mint":
		return TypeMint, nil
	case "burn":
		return TypeBurn, nil
	case "transfer":
		return TypeTransfer, nil
	case "budget":
		return TypeBudget, nil
	}
	return 0, errors.Errorf("unknown transaction type %q", s)
}

// Output asks validators to sign one new coin.
type Output struct {
	Request         utt.BlindRequest `cbor:"1,keyasint"`
	ValueCommitment *utt.Point1      `cbor:"2,keyasint,omitempty"`
	Range           *utt.RangeProof  `cbor:"3,keyasint,omitempty"`
	Self            bool             `cbor:"4,keyasint"`
	Opening         []byte           `cbor:"5,keyasint"`
}

// Input proves ownership of a signed coin without revealing it.
type Input struct {
	Show            utt.Show     `cbor:"1,keyasint"`
	Type            utt.CoinType `cbor:"2,keyasint"`
	Expiration      uint64       `cbor:"3,keyasint"`
	Nullifier       utt.Point1   `cbor:"4,keyasint"`
	ValueCommitment utt.Point1   `cbor:"5,keyasint"`
}

// Header is shared by every transaction type.
type Header struct {
	Type       Type      `cbor:"1,keyasint"`
	Nullifiers []string  `cbor:"2,keyasint"`
	Outputs    []*Output `cbor:"3,keyasint"`
}

// Payload is the type-specific part of a transaction.
type Payload interface {
	Kind() Type
	// statement returns a copy with proofs stripped, used for hashing.
	statement() Payload
}

// MintPayload creates a coin of a public value for a public identity.
type MintPayload struct {
	MintID string     `cbor:"1,keyasint"`
	PID    utt.Scalar `cbor:"2,keyasint"`
	Amount uint64     `cbor:"3,keyasint"`
	Proof  *utt.Proof `cbor:"4,keyasint,omitempty"`
}

// BudgetPayload issues a spending budget to a public identity.
type BudgetPayload struct {
	BudgetID   string     `cbor:"1,keyasint"`
	PID        utt.Scalar `cbor:"2,keyasint"`
	Amount     uint64     `cbor:"3,keyasint"`
	Expiration uint64     `cbor:"4,keyasint"`
	Proof      *utt.Proof `cbor:"5,keyasint,omitempty"`
}

// TransferPayload moves hidden value between registered users.
type TransferPayload struct {
	Registration utt.Show   `cbor:"1,keyasint"`
	Inputs       []*Input   `cbor:"2,keyasint"`
	Budget       *Input     `cbor:"3,keyasint,omitempty"`
	Proof        *utt.Proof `cbor:"4,keyasint,omitempty"`
}

// BurnPayload destroys a public amount of hidden value.
type BurnPayload struct {
	Registration utt.Show   `cbor:"1,keyasint"`
	Inputs       []*Input   `cbor:"2,keyasint"`
	Amount       uint64     `cbor:"3,keyasint"`
	Proof        *utt.Proof `cbor:"4,keyasint,omitempty"`
}

func (*MintPayload) Kind() Type     { return TypeMint }
func (*BudgetPayload) Kind() Type   { return TypeBudget }
func (*TransferPayload) Kind() Type { return TypeTransfer }
func (*BurnPayload) Kind() Type     { return TypeBurn }

func (p *MintPayload) statement() Payload {
	c := *p
	c.Proof = nil
	return &c
}

func (p *BudgetPayload) statement() Payload {
	c := *p
	c.Proof = nil
	return &c
}

func (p *TransferPayload) statement() Payload {
	c := *p
	c.Proof = nil
	return &c
}

func (p *BurnPayload) statement() Payload {
	c := *p
	c.Proof = nil
	return &c
}

// Transaction is the unit validators sign.
type Transaction struct {
	Header
	Payload Payload
}

type wireTx struct {
	Header  Header          `cbor:"1,keyasint"`
	Payload cbor.RawMessage `cbor:"2,keyasint"`
}

// Marshal encodes the transaction.
func (tx *Transaction) Marshal() ([]byte, error) {
	if tx.Payload == nil || tx.Payload.Kind() != tx.Type {
		return nil, errors.Wrap(utt.ErrInvalidTransaction, "payload does not match header type")
	}
	p, err := cbor.Marshal(tx.Payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	return cbor.Marshal(wireTx{Header: tx.Header, Payload: p})
}

// Unmarshal decodes a transaction produced by Marshal.
func Unmarshal(data []byte) (*Transaction, error) {
	var w wireTx
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrapf(utt.ErrInvalidTransaction, "decode: %v", err)
	}
	var p Payload
	switch w.Header.Type {
	case TypeMint:
		p = &MintPayload{}
	case TypeBurn:
		p = &BurnPayload{}
	case TypeTransfer:
		p = &TransferPayload{}
	case TypeBudget:
		p = &BudgetPayload{}
	default:
		return nil, errors.Wrapf(utt.ErrInvalidTransaction, "unknown type %d", w.Header.Type)
	}
	if err := cbor.Unmarshal(w.Payload, p); err != nil {
		return nil, errors.Wrapf(utt.ErrInvalidTransaction, "decode %s payload: %v", w.Header.Type, err)
	}
	return &Transaction{Header: w.Header, Payload: p}, nil
}

// NumOutputs is the number of coins the transaction creates.
func (tx *Transaction) NumOutputs() int { return len(tx.Outputs) }

// HasBudgetCoin reports whether a budget coin is consumed.
func (tx *Transaction) HasBudgetCoin() bool {
	t, ok := tx.Payload.(*TransferPayload)
	return ok && t.Budget != nil
}

// BudgetExpiration returns the expiration of the consumed or issued budget.
func (tx *Transaction) BudgetExpiration() (uint64, bool) {
	switch p := tx.Payload.(type) {
	case *TransferPayload:
		if p.Budget != nil {
			return p.Budget.Expiration, true
		}
	case *BudgetPayload:
		return p.Expiration, true
	}
	return 0, false
}

// Context hashes the public statement of tx: everything except the proofs.
// Every proof in the transaction is bound to it.
func (tx *Transaction) Context(p *utt.GlobalParams) ([]byte, error) {
	outs := make([]*Output, len(tx.Outputs))
	for i, o := range tx.Outputs {
		c := *o
		c.Range = nil
		outs[i] = &c
	}
	h := Header{Type: tx.Type, Nullifiers: tx.Nullifiers, Outputs: outs}
	hb, err := cbor.Marshal(h)
	if err != nil {
		return nil, err
	}
	pb, err := cbor.Marshal(tx.Payload.statement())
	if err != nil {
		return nil, err
	}
	return utt.Digest("UTT-TX-V1", p.ID(), hb, pb), nil
}

// ID is a stable identifier for logs and claim bookkeeping.
func (tx *Transaction) ID() string {
	raw, err := tx.Marshal()
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", utt.Digest("UTT-TXID-V1", raw)[:16])
}

func rangeContext(ctx []byte, index int) []byte {
	return utt.Digest("UTT-TX-RANGE-V1", ctx, []byte{byte(index >> 8), byte(index)})
}
