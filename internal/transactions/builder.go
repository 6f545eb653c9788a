// builder.go - Construction of mint, burn, transfer and budget transactions.
//
// A Builder collects inputs and recipients, validates them into a draft, and
// then produces exactly one transaction. Openings of outputs destined to other
// users go through the caller's Encryptor; the sender's own outputs are sealed
// with the client's Sealer.

package transactions

import (
	"math/bits"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"privwallet/internal/utt"
)

// Client is the spending identity: its pid, registration PRF key and
// registration credential.
type Client struct {
	Identity   string
	PID        utt.Scalar
	PRFKey     utt.Scalar
	Credential *utt.Signature
	Sealer     *utt.Sealer
}

func (c *Client) check(p *utt.GlobalParams) error {
	if c == nil || c.Credential == nil || c.Sealer == nil {
		return utt.ErrNotRegistered
	}
	if !p.Registration.Verify(c.Credential, []fr.Element{c.PID.Element, c.PRFKey.Element}) {
		return errors.Wrap(utt.ErrNotRegistered, "registration credential does not verify")
	}
	return nil
}

// Recipient is one payee of a transfer.
type Recipient struct {
	ID        string
	PublicKey []byte
	Amount    uint64
}

type builderState int

const (
	stateCollecting builderState = iota
	stateDrafted
	stateBuilt
)

// Builder assembles one transaction.
type Builder struct {
	params     *utt.GlobalParams
	client     *Client
	now        time.Time
	state      builderState
	inputs     []*utt.Coin
	budget     *utt.Coin
	recipients []Recipient
}

// NewBuilder starts collecting inputs for client. now decides budget expiry.
func NewBuilder(p *utt.GlobalParams, client *Client, now time.Time) *Builder {
	return &Builder{params: p, client: client, now: now}
}

func (b *Builder) collecting() error {
	if b.state != stateCollecting {
		return errors.Wrap(utt.ErrBuilderState, "builder is no longer collecting")
	}
	return nil
}

// AddInput adds a coin to spend.
func (b *Builder) AddInput(c *utt.Coin) error {
	if err := b.collecting(); err != nil {
		return err
	}
	b.inputs = append(b.inputs, c.Clone())
	return nil
}

// SetBudget sets the budget coin a transfer to others consumes.
func (b *Builder) SetBudget(c *utt.Coin) error {
	if err := b.collecting(); err != nil {
		return err
	}
	if c != nil {
		c = c.Clone()
	}
	b.budget = c
	return nil
}

// AddRecipient adds a payee.
func (b *Builder) AddRecipient(r Recipient) error {
	if err := b.collecting(); err != nil {
		return err
	}
	if r.Amount == 0 {
		return errors.Wrap(utt.ErrInvalidTransaction, "recipient amount must be positive")
	}
	if err := checkValue(b.params, r.Amount); err != nil {
		return err
	}
	b.recipients = append(b.recipients, r)
	return nil
}

// Draft validates the collected inputs.
func (b *Builder) Draft() error {
	if err := b.collecting(); err != nil {
		return err
	}
	if err := b.client.check(b.params); err != nil {
		return err
	}
	if len(b.inputs) == 0 {
		return errors.Wrap(utt.ErrInvalidCoinsInTransfer, "no input coins")
	}
	if len(b.inputs) > b.params.MaxInputs {
		return errors.Wrapf(utt.ErrInvalidCoinsInTransfer, "%d inputs exceed the limit of %d", len(b.inputs), b.params.MaxInputs)
	}
	seen := make(map[string]bool)
	for _, c := range b.inputs {
		if err := b.checkOwned(c, utt.NormalCoin); err != nil {
			return err
		}
		key := c.SN.String()
		if seen[key] {
			return errors.Wrap(utt.ErrInvalidCoinsInTransfer, "coin used twice")
		}
		seen[key] = true
	}
	if b.budget != nil {
		if err := b.checkOwned(b.budget, utt.BudgetCoin); err != nil {
			return err
		}
	}
	b.state = stateDrafted
	return nil
}

func (b *Builder) checkOwned(c *utt.Coin, typ utt.CoinType) error {
	if !c.PID.Equal(&b.client.PID.Element) {
		return errors.Wrap(utt.ErrInvalidCoinsInTransfer, "coin belongs to another user")
	}
	if c.Type != typ {
		return errors.Wrapf(utt.ErrInvalidCoinsInTransfer, "expected a %s coin, got %s", typ, c.Type)
	}
	if !c.IsSpendable(b.params, b.now) {
		return errors.Wrap(utt.ErrInvalidCoinsInTransfer, "coin is not spendable")
	}
	return nil
}

func (b *Builder) ensureDrafted() error {
	switch b.state {
	case stateCollecting:
		return b.Draft()
	case stateDrafted:
		return nil
	}
	return errors.Wrap(utt.ErrBuilderState, "transaction already built")
}

// addAmount adds v to *total, failing instead of wrapping around.
func addAmount(total *uint64, v uint64) error {
	sum, carry := bits.Add64(*total, v, 0)
	if carry != 0 {
		return errors.Wrap(utt.ErrInvalidTransaction, "amounts overflow")
	}
	*total = sum
	return nil
}

// checkValue rejects coin values the range proof cannot cover.
func checkValue(p *utt.GlobalParams, v uint64) error {
	if bits.Len64(v) > p.RangeBits {
		return errors.Wrapf(utt.ErrInvalidTransaction, "value %d exceeds %d bits", v, p.RangeBits)
	}
	return nil
}

func sumInputs(coins []*utt.Coin) (uint64, error) {
	var t uint64
	for _, c := range coins {
		if err := addAmount(&t, c.Value); err != nil {
			return 0, err
		}
	}
	return t, nil
}

func inputTotal(coins []*utt.Coin) uint64 {
	var t uint64
	for _, c := range coins {
		t += c.Value
	}
	return t
}

// Transfer builds a transfer to the collected recipients.
func (b *Builder) Transfer(enc utt.Encryptor) (*Transaction, error) {
	if err := b.ensureDrafted(); err != nil {
		return nil, err
	}
	if len(b.recipients) == 0 {
		return nil, errors.Wrap(utt.ErrInvalidTransaction, "transfer without recipients")
	}
	var total, nonSelf uint64
	for _, r := range b.recipients {
		if err := addAmount(&total, r.Amount); err != nil {
			return nil, err
		}
		if r.ID != b.client.Identity {
			nonSelf += r.Amount
		}
	}
	available, err := sumInputs(b.inputs)
	if err != nil {
		return nil, err
	}
	if available < total {
		return nil, errors.Wrapf(utt.ErrInsufficientBalance, "inputs hold %d, transfer needs %d", available, total)
	}

	useBudget := b.params.UseBudget && nonSelf > 0
	if useBudget {
		if b.budget == nil {
			return nil, errors.Wrap(utt.ErrInvalidCoinsInTransfer, "transfer to others requires a budget coin")
		}
		if b.budget.Value < nonSelf {
			return nil, errors.Wrapf(utt.ErrInsufficientBudget, "budget %d, transfer needs %d", b.budget.Value, nonSelf)
		}
	}

	plans := make([]outputPlan, 0, len(b.recipients)+2)
	for _, r := range b.recipients {
		self := r.ID == b.client.Identity
		plans = append(plans, outputPlan{
			pid: pidFor(b.client, r.ID), self: self, value: r.Amount,
			typ: utt.NormalCoin, publicKey: r.PublicKey,
		})
	}
	if change := available - total; change > 0 {
		if err := checkValue(b.params, change); err != nil {
			return nil, err
		}
		plans = append(plans, outputPlan{pid: b.client.PID.Element, self: true, value: change, typ: utt.NormalCoin})
	}
	var budget *utt.Coin
	if useBudget {
		budget = b.budget
		plans = append(plans, outputPlan{
			pid: b.client.PID.Element, self: true, value: budget.Value - nonSelf,
			typ: utt.BudgetCoin, exp: budget.Expiration,
		})
	}
	tx, err := b.spend(TypeTransfer, plans, budget, 0, enc)
	if err != nil {
		return nil, err
	}
	b.state = stateBuilt
	return tx, nil
}

// Burn builds a burn of amount, returning the remainder to the sender.
func (b *Builder) Burn(amount uint64) (*Transaction, error) {
	if err := b.ensureDrafted(); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, errors.Wrap(utt.ErrInvalidTransaction, "burn amount must be positive")
	}
	if len(b.recipients) > 0 {
		return nil, errors.Wrap(utt.ErrInvalidTransaction, "burn takes no recipients")
	}
	available, err := sumInputs(b.inputs)
	if err != nil {
		return nil, err
	}
	if available < amount {
		return nil, errors.Wrapf(utt.ErrInsufficientBalance, "inputs hold %d, burn needs %d", available, amount)
	}
	var plans []outputPlan
	if change := available - amount; change > 0 {
		if err := checkValue(b.params, change); err != nil {
			return nil, err
		}
		plans = append(plans, outputPlan{pid: b.client.PID.Element, self: true, value: change, typ: utt.NormalCoin})
	}
	tx, err := b.spend(TypeBurn, plans, nil, amount, nil)
	if err != nil {
		return nil, err
	}
	b.state = stateBuilt
	return tx, nil
}

func pidFor(c *Client, id string) fr.Element {
	if id == c.Identity {
		return c.PID.Element
	}
	return utt.HashPID(id)
}

type outputPlan struct {
	pid       fr.Element
	self      bool
	value     uint64
	typ       utt.CoinType
	exp       uint64
	publicKey []byte
}

// sealOpening protects o for its owner.
func sealOpening(o *utt.Opening, out *Output, self bool, sealer *utt.Sealer, publicKey []byte, enc utt.Encryptor) error {
	raw, err := o.Marshal()
	if err != nil {
		return err
	}
	if self {
		cm := out.Request.Commitment.Bytes()
		if out.Opening, err = sealer.Seal(raw, cm[:]); err != nil {
			return errors.Wrap(utt.ErrEncryptionFailure, err.Error())
		}
		return nil
	}
	if enc == nil {
		return errors.Wrap(utt.ErrEncryptionFailure, "no encryptor for recipient output")
	}
	if out.Opening, err = enc.EncryptFor(publicKey, raw); err != nil {
		return errors.Wrap(utt.ErrEncryptionFailure, err.Error())
	}
	return nil
}

func (b *Builder) prepareOutput(plan outputPlan, z fr.Element, enc utt.Encryptor) (*Output, *outputSecret, error) {
	p := b.params
	sn, err := randomScalar()
	if err != nil {
		return nil, nil, err
	}
	attrs := utt.CoinAttributes(plan.pid, sn, plan.value, plan.typ, plan.exp)
	req, bsec, err := p.Coin.PrepareBlind(attrs, []int{utt.AttrType, utt.AttrExpiration})
	if err != nil {
		return nil, nil, err
	}
	var value fr.Element
	value.SetUint64(plan.value)
	vcm := utt.Point1{G1Affine: p.Bases().Commit(value, z)}
	out := &Output{Request: *req, ValueCommitment: &vcm, Self: plan.self}
	opening := &utt.Opening{
		PID: utt.Scalar{Element: plan.pid}, SN: utt.Scalar{Element: sn},
		Value: plan.value, Type: plan.typ, Expiration: plan.exp,
		R: bsec.R, D: bsec.D,
	}
	if err := sealOpening(opening, out, plan.self, b.client.Sealer, plan.publicKey, enc); err != nil {
		return nil, nil, err
	}
	sec := &outputSecret{pid: plan.pid, sn: sn, value: value, z: z, r: bsec.R.Element}
	for _, k := range bsec.K {
		sec.k = append(sec.k, k.Element)
	}
	return out, sec, nil
}

// spend assembles a transfer or burn. Blinding factors are chosen so that
//
//	Π vcm(normal in) = Gv^burn · Π vcm(normal out)
//	vcm(budget in)   = vcm(budget out) · Π vcm(outputs to others)
func (b *Builder) spend(kind Type, plans []outputPlan, budget *utt.Coin, burn uint64, enc utt.Encryptor) (*Transaction, error) {
	p := b.params
	c := b.client

	outZ := make([]fr.Element, len(plans))
	var normalOutZ, nonSelfZ, budgetOutZ fr.Element
	for k, plan := range plans {
		z, err := randomScalar()
		if err != nil {
			return nil, err
		}
		outZ[k] = z
		switch {
		case plan.typ == utt.BudgetCoin:
			budgetOutZ = z
		default:
			normalOutZ.Add(&normalOutZ, &z)
			if !plan.self {
				nonSelfZ.Add(&nonSelfZ, &z)
			}
		}
	}

	sec := &spendSecret{pid: c.PID.Element, s: c.PRFKey.Element}
	outputs := make([]*Output, len(plans))
	for k, plan := range plans {
		out, osec, err := b.prepareOutput(plan, outZ[k], enc)
		if err != nil {
			return nil, err
		}
		outputs[k] = out
		sec.outputs = append(sec.outputs, *osec)
	}

	regShow, tReg, err := p.Registration.NewShow(c.Credential, []fr.Element{c.PID.Element, c.PRFKey.Element})
	if err != nil {
		return nil, err
	}
	sec.t = tReg

	coins := append([]*utt.Coin{}, b.inputs...)
	if budget != nil {
		coins = append(coins, budget)
	}
	inZ := make([]fr.Element, len(coins))
	var acc fr.Element
	last := len(b.inputs) - 1
	for i := 0; i < last; i++ {
		z, err := randomScalar()
		if err != nil {
			return nil, err
		}
		inZ[i] = z
		acc.Add(&acc, &z)
	}
	inZ[last].Sub(&normalOutZ, &acc)
	if budget != nil {
		inZ[len(coins)-1].Add(&budgetOutZ, &nonSelfZ)
	}

	inputs := make([]*Input, len(coins))
	nullifiers := make([]string, len(coins))
	for i, coin := range coins {
		show, t, err := p.Coin.NewShow(coin.Sig, coin.Attributes())
		if err != nil {
			return nil, err
		}
		var value fr.Element
		value.SetUint64(coin.Value)
		zeta := utt.DeriveNullifier(p, c.PRFKey.Element, coin)
		inputs[i] = &Input{
			Show:            *show,
			Type:            coin.Type,
			Expiration:      coin.Expiration,
			Nullifier:       zeta,
			ValueCommitment: utt.Point1{G1Affine: p.Bases().Commit(value, inZ[i])},
		}
		nullifiers[i] = zeta.Hex()
		sec.inputs = append(sec.inputs, inputSecret{sn: coin.SN.Element, value: value, t: t, z: inZ[i]})
	}

	tx := &Transaction{Header: Header{Type: kind, Nullifiers: nullifiers, Outputs: outputs}}
	switch kind {
	case TypeTransfer:
		tp := &TransferPayload{Registration: *regShow, Inputs: inputs[:len(b.inputs)]}
		if budget != nil {
			tp.Budget = inputs[len(inputs)-1]
		}
		tx.Payload = tp
	case TypeBurn:
		tx.Payload = &BurnPayload{Registration: *regShow, Inputs: inputs, Amount: burn}
	default:
		return nil, errors.Errorf("spend: unsupported type %s", kind)
	}

	ctx, err := tx.Context(p)
	if err != nil {
		return nil, err
	}
	for k, out := range outputs {
		rp, err := p.Range.Prove(p.Bases(), plans[k].value, outZ[k], rangeContext(ctx, k))
		if err != nil {
			return nil, err
		}
		out.Range = rp
	}
	rel, err := spendRelation(p, tx, sec)
	if err != nil {
		return nil, err
	}
	proof, err := rel.Prove(ctx)
	if err != nil {
		return nil, err
	}
	switch pl := tx.Payload.(type) {
	case *TransferPayload:
		pl.Proof = proof
	case *BurnPayload:
		pl.Proof = proof
	}
	return tx, nil
}

// Mint builds a transaction creating amount for the client.
func Mint(p *utt.GlobalParams, client *Client, amount uint64) (*Transaction, error) {
	if err := client.check(p); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, errors.Wrap(utt.ErrInvalidTransaction, "mint amount must be positive")
	}
	if err := checkValue(p, amount); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	payload := &MintPayload{MintID: id, PID: client.PID, Amount: amount}
	return issue(p, "mint:"+id, payload, client.PID.Element, amount, utt.NormalCoin, 0, func(o *utt.Opening, out *Output) error {
		out.Self = true
		return sealOpening(o, out, true, client.Sealer, nil, nil)
	})
}

// BudgetOrder describes a budget issued to an identity.
type BudgetOrder struct {
	Identity   string
	PublicKey  []byte
	Amount     uint64
	Expiration time.Time
}

// IssueBudget builds a budget issuance transaction for order.
func IssueBudget(p *utt.GlobalParams, order BudgetOrder, enc utt.Encryptor) (*Transaction, error) {
	if order.Identity == "" {
		return nil, errors.Wrap(utt.ErrInvalidTransaction, "budget order without identity")
	}
	if err := checkValue(p, order.Amount); err != nil {
		return nil, err
	}
	pid := utt.HashPID(order.Identity)
	exp := uint64(order.Expiration.Unix())
	id := uuid.NewString()
	payload := &BudgetPayload{BudgetID: id, PID: utt.Scalar{Element: pid}, Amount: order.Amount, Expiration: exp}
	return issue(p, "budget:"+id, payload, pid, order.Amount, utt.BudgetCoin, exp, func(o *utt.Opening, out *Output) error {
		return sealOpening(o, out, false, nil, order.PublicKey, enc)
	})
}

func issue(p *utt.GlobalParams, tag string, payload Payload, pid fr.Element, amount uint64, typ utt.CoinType, exp uint64,
	protect func(*utt.Opening, *Output) error) (*Transaction, error) {
	sn, err := randomScalar()
	if err != nil {
		return nil, err
	}
	attrs := utt.CoinAttributes(pid, sn, amount, typ, exp)
	req, bsec, err := p.Coin.PrepareBlind(attrs, []int{utt.AttrPID, utt.AttrValue, utt.AttrType, utt.AttrExpiration})
	if err != nil {
		return nil, err
	}
	out := &Output{Request: *req}
	opening := &utt.Opening{
		PID: utt.Scalar{Element: pid}, SN: utt.Scalar{Element: sn},
		Value: amount, Type: typ, Expiration: exp, R: bsec.R, D: bsec.D,
	}
	if err := protect(opening, out); err != nil {
		return nil, err
	}
	tx := &Transaction{
		Header:  Header{Type: payload.Kind(), Nullifiers: []string{tag}, Outputs: []*Output{out}},
		Payload: payload,
	}
	ctx, err := tx.Context(p)
	if err != nil {
		return nil, err
	}
	rel, err := issueRelation(p, tx, &issueSecret{r: bsec.R.Element, sn: sn, k: bsec.K[0].Element})
	if err != nil {
		return nil, err
	}
	proof, err := rel.Prove(ctx)
	if err != nil {
		return nil, err
	}
	switch pl := payload.(type) {
	case *MintPayload:
		pl.Proof = proof
	case *BudgetPayload:
		pl.Proof = proof
	}
	return tx, nil
}

func randomScalar() (fr.Element, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return e, errors.Wrap(err, "sample scalar")
	}
	return e, nil
}
