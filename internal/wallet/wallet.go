// Package wallet holds one user's coins and drives the protocol for them.
//
// A Wallet is configured once with an identity and a key pair, registers
// once, and then builds one transaction at a time. The coin set is only
// changed by a successful claim, and only after it was saved.
package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"privwallet/internal/claim"
	"privwallet/internal/metrics"
	"privwallet/internal/signer"
	"privwallet/internal/transactions"
	"privwallet/internal/transactions/register"
	"privwallet/internal/utt"
)

// Option configures a Wallet.
type Option func(*Wallet)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Wallet) { w.log = l }
}

// WithMetrics records built transactions and claims in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(w *Wallet) { w.metrics = c }
}

// WithEncryptor replaces the default ECIES encryptor for other users' outputs.
func WithEncryptor(e utt.Encryptor) Option {
	return func(w *Wallet) { w.enc = e }
}

// WithClock sets the time source used for budget expiry.
func WithClock(now func() time.Time) Option {
	return func(w *Wallet) { w.now = now }
}

// Wallet is safe for concurrent use; every operation holds one lock.
type Wallet struct {
	mu      sync.Mutex
	params  *utt.GlobalParams
	store   Storage
	enc     utt.Encryptor
	log     zerolog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	st      *state
	keys    *utt.DHKeyPair
	sealer  *utt.Sealer
	pending *transactions.Transaction
}

// Open restores the wallet kept in store. A store that was never written
// yields an unconfigured wallet.
func Open(ctx context.Context, p *utt.GlobalParams, store Storage, opts ...Option) (*Wallet, error) {
	if store == nil {
		return nil, errors.New("wallet: storage is required")
	}
	w := &Wallet{
		params:  p,
		store:   store,
		enc:     utt.ECIES{},
		log:     zerolog.Nop(),
		metrics: metrics.NewCollector(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	data, err := store.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(utt.ErrStorageFailure, err.Error())
	}
	if data == nil {
		return w, nil
	}
	st, err := unmarshalState(data)
	if err != nil {
		return nil, errors.Wrap(utt.ErrStorageFailure, err.Error())
	}
	if err := w.load(st); err != nil {
		return nil, err
	}
	w.log.Info().Str("identity", st.Identity).Bool("registered", st.Credential != nil).
		Int("coins", len(st.Coins)).Msg("wallet recovered from storage")
	return w, nil
}

// load installs st and derives the key material from it.
func (w *Wallet) load(st *state) error {
	keys, err := utt.DHKeyPairFromBytes(st.SecretKey)
	if err != nil {
		return errors.Wrap(err, "wallet key")
	}
	sealer, err := utt.NewSealer(st.SecretKey)
	if err != nil {
		return err
	}
	w.st, w.keys, w.sealer = st, keys, sealer
	return nil
}

// commit applies mutate to a copy of the state, saves it, and only then
// makes it current. A failed save leaves the wallet as it was.
func (w *Wallet) commit(ctx context.Context, mutate func(*state) error) error {
	next, err := w.st.clone()
	if err != nil {
		return err
	}
	if err := mutate(next); err != nil {
		return err
	}
	raw, err := next.marshal()
	if err != nil {
		return err
	}
	if err := w.store.Save(ctx, raw); err != nil {
		w.metrics.RecordError(utt.ErrStorageFailure.Code)
		return errors.Wrap(utt.ErrStorageFailure, err.Error())
	}
	w.st = next
	return nil
}

func (w *Wallet) configured() error {
	if w.st == nil {
		return utt.ErrWalletNotConfigured
	}
	return nil
}

func (w *Wallet) registered() error {
	if err := w.configured(); err != nil {
		return err
	}
	if w.st.Credential == nil {
		return utt.ErrNotRegistered
	}
	return nil
}

func (w *Wallet) client() *transactions.Client {
	cred := w.st.Credential
	return &transactions.Client{
		Identity:   w.st.Identity,
		PID:        cred.PID,
		PRFKey:     cred.PRFKey,
		Credential: cred.Sig,
		Sealer:     w.sealer,
	}
}

func (w *Wallet) owner() *claim.Owner {
	cred := w.st.Credential
	return &claim.Owner{PID: cred.PID, PRFKey: cred.PRFKey, Sealer: w.sealer, Decryptor: w.keys}
}

// Configure sets the identity and key pair. A nil secret generates a new key.
func (w *Wallet) Configure(ctx context.Context, identity string, secret []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.st != nil {
		return utt.ErrWalletConfigured
	}
	if identity == "" {
		return errors.Wrap(utt.ErrInvalidArgument, "identity is empty")
	}
	if secret == nil {
		kp, err := utt.GenerateDHKeyPair()
		if err != nil {
			return err
		}
		secret = kp.SecretKey()
	}
	st := newState(identity, secret)
	raw, err := st.marshal()
	if err != nil {
		return err
	}
	if err := w.store.Save(ctx, raw); err != nil {
		return errors.Wrap(utt.ErrStorageFailure, err.Error())
	}
	if err := w.load(st); err != nil {
		w.st = nil
		return err
	}
	w.log.Info().Str("identity", identity).Msg("wallet configured")
	return nil
}

// PublicKey is the key other users encrypt outputs to.
func (w *Wallet) PublicKey() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.configured(); err != nil {
		return nil, err
	}
	return w.keys.PublicKey(), nil
}

// Register starts registration and returns the request for the registrars.
// Calling it again before UpdateRegistration replaces the pending request
// with a fresh one.
func (w *Wallet) Register(ctx context.Context) (*register.Request, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.configured(); err != nil {
		return nil, err
	}
	if w.st.Credential != nil {
		return nil, utt.ErrAlreadyRegistered
	}
	req, pending, err := register.Begin(w.params, w.st.Identity, w.keys.PublicKey())
	if err != nil {
		return nil, err
	}
	if err := w.commit(ctx, func(s *state) error {
		s.Pending = pending
		return nil
	}); err != nil {
		return nil, err
	}
	w.log.Info().Str("identity", w.st.Identity).Str("rcm1", req.RCM1().Hex()).Msg("registration started")
	return req, nil
}

// UpdateRegistration finishes registration with the registrars' shares and s2.
func (w *Wallet) UpdateRegistration(ctx context.Context, shares []utt.BlindShare, s2 utt.Scalar) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.configured(); err != nil {
		return err
	}
	if w.st.Credential != nil {
		return utt.ErrAlreadyRegistered
	}
	if w.st.Pending == nil {
		return utt.ErrRegistrationState
	}
	cred, err := register.Finalize(w.params, w.st.Pending, shares, s2)
	if err != nil {
		return err
	}
	if err := w.commit(ctx, func(s *state) error {
		s.Credential, s.Pending = cred, nil
		return nil
	}); err != nil {
		return err
	}
	w.log.Info().Str("identity", w.st.Identity).Msg("registration complete")
	return nil
}

// IsRegistered reports whether the wallet holds a registration credential.
func (w *Wallet) IsRegistered() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st != nil && w.st.Credential != nil
}

// TxResult is a built transaction. Final is false when the transaction only
// merges coins and the caller has to build again once it is claimed.
type TxResult struct {
	Tx    *transactions.Transaction
	Final bool
}

func (w *Wallet) beginBuild() error {
	if err := w.registered(); err != nil {
		return err
	}
	if w.pending != nil {
		return errors.Wrapf(utt.ErrTransactionPending, "transaction %s", w.pending.ID())
	}
	return nil
}

func (w *Wallet) built(tx *transactions.Transaction, start time.Time) {
	w.pending = tx
	w.metrics.RecordTransaction(tx.Type.String(), time.Since(start))
	w.log.Info().Str("tx", tx.ID()).Str("type", tx.Type.String()).Int("outputs", tx.NumOutputs()).Msg("transaction built")
}

// Mint builds a transaction creating amount for this wallet.
func (w *Wallet) Mint(_ context.Context, amount uint64) (*transactions.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.beginBuild(); err != nil {
		return nil, err
	}
	start := time.Now()
	tx, err := transactions.Mint(w.params, w.client(), amount)
	if err != nil {
		return nil, err
	}
	w.built(tx, start)
	return tx, nil
}

// selectInputs picks coins for amount, failing on an insufficient balance.
func (w *Wallet) selectInputs(amount uint64, now time.Time) (transactions.Selection, error) {
	if amount == 0 {
		return transactions.Selection{}, errors.Wrap(utt.ErrInvalidArgument, "amount must be positive")
	}
	if bal := w.st.balance(w.params, now); bal < amount {
		return transactions.Selection{}, errors.Wrapf(utt.ErrInsufficientBalance, "balance %d, requested %d", bal, amount)
	}
	sel := transactions.SelectCoins(w.st.spendable(w.params, now), amount, w.params.MaxInputs)
	if !sel.Final && len(sel.Coins) == 0 {
		return sel, errors.Wrapf(utt.ErrInvalidCoinsInTransfer, "no merge of at most %d coins covers %d", w.params.MaxInputs, amount)
	}
	return sel, nil
}

// merge builds a self transfer joining sel into one coin.
func (w *Wallet) merge(sel transactions.Selection, now time.Time) (*transactions.Transaction, error) {
	b := transactions.NewBuilder(w.params, w.client(), now)
	for _, c := range sel.Coins {
		if err := b.AddInput(c); err != nil {
			return nil, err
		}
	}
	if err := b.AddRecipient(transactions.Recipient{ID: w.st.Identity, Amount: sel.Total()}); err != nil {
		return nil, err
	}
	return b.Transfer(nil)
}

// Burn builds a transaction destroying amount. When no allowed combination of
// coins covers amount the result merges coins first and is not final.
func (w *Wallet) Burn(_ context.Context, amount uint64) (*TxResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.beginBuild(); err != nil {
		return nil, err
	}
	start, now := time.Now(), w.now()
	sel, err := w.selectInputs(amount, now)
	if err != nil {
		return nil, err
	}
	var tx *transactions.Transaction
	if sel.Final {
		b := transactions.NewBuilder(w.params, w.client(), now)
		for _, c := range sel.Coins {
			if err := b.AddInput(c); err != nil {
				return nil, err
			}
		}
		tx, err = b.Burn(amount)
	} else {
		tx, err = w.merge(sel, now)
	}
	if err != nil {
		return nil, err
	}
	w.built(tx, start)
	return &TxResult{Tx: tx, Final: sel.Final}, nil
}

// Transfer builds a payment of amount to recipient. Payments to another
// identity consume the budget coin when budgets are enabled.
func (w *Wallet) Transfer(_ context.Context, recipient string, publicKey []byte, amount uint64) (*TxResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.beginBuild(); err != nil {
		return nil, err
	}
	if recipient == "" {
		return nil, errors.Wrap(utt.ErrInvalidArgument, "recipient is empty")
	}
	start, now := time.Now(), w.now()
	self := recipient == w.st.Identity
	if self {
		publicKey = w.keys.PublicKey()
	}
	sel, err := w.selectInputs(amount, now)
	if err != nil {
		return nil, err
	}
	if !sel.Final {
		tx, err := w.merge(sel, now)
		if err != nil {
			return nil, err
		}
		w.built(tx, start)
		return &TxResult{Tx: tx, Final: false}, nil
	}
	b := transactions.NewBuilder(w.params, w.client(), now)
	for _, c := range sel.Coins {
		if err := b.AddInput(c); err != nil {
			return nil, err
		}
	}
	if w.params.UseBudget && !self {
		if budget := w.st.activeBudget(w.params, now); budget != nil {
			if err := b.SetBudget(budget); err != nil {
				return nil, err
			}
		}
	}
	if err := b.AddRecipient(transactions.Recipient{ID: recipient, PublicKey: publicKey, Amount: amount}); err != nil {
		return nil, err
	}
	tx, err := b.Transfer(w.enc)
	if err != nil {
		return nil, err
	}
	w.built(tx, start)
	return &TxResult{Tx: tx, Final: true}, nil
}

// ClaimCoins turns the validators' shares for tx into coins and records them.
// Claiming the same transaction again returns the coins of the first claim;
// a transaction with the same nullifiers but other outputs is rejected.
func (w *Wallet) ClaimCoins(ctx context.Context, tx *transactions.Transaction, shares map[int][]signer.SignatureShare) ([]*utt.Coin, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.registered(); err != nil {
		return nil, err
	}
	key := claimKey(tx)
	digest, err := outputsDigest(tx)
	if err != nil {
		return nil, err
	}
	if rec, ok := w.st.Claims[key]; ok {
		if rec.Outputs != digest {
			return nil, errors.Wrapf(utt.ErrConflictingClaim, "transaction %s", tx.ID())
		}
		return cloneCoins(rec.Coins), nil
	}
	coins, err := claim.Claim(w.params, w.owner(), tx, shares)
	if err != nil {
		w.metrics.RecordError(utt.CodeOf(err))
		return nil, err
	}
	if err := w.commit(ctx, func(s *state) error {
		s.apply(tx, coins)
		s.Claims[key] = &claimRecord{Outputs: digest, Coins: cloneCoins(coins)}
		return nil
	}); err != nil {
		return nil, err
	}
	if w.pending != nil && w.pending.ID() == tx.ID() {
		w.pending = nil
	}
	w.metrics.RecordClaim(tx.Type.String(), len(coins))
	w.metrics.SetBalance(w.st.balance(w.params, w.now()))
	w.log.Info().Str("tx", tx.ID()).Int("coins", len(coins)).Msg("coins claimed")
	return cloneCoins(coins), nil
}

func cloneCoins(coins []*utt.Coin) []*utt.Coin {
	out := make([]*utt.Coin, len(coins))
	for i, c := range coins {
		out[i] = c.Clone()
	}
	return out
}

// Pending returns the transaction being built, if any.
func (w *Wallet) Pending() *transactions.Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// AbandonPending forgets the in-flight transaction so a new one can be built.
// It reports whether there was one.
func (w *Wallet) AbandonPending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	had := w.pending != nil
	if had {
		w.log.Warn().Str("tx", w.pending.ID()).Msg("pending transaction abandoned")
	}
	w.pending = nil
	return had
}

// State is a read-only view of the wallet.
type State struct {
	Identity         string
	PublicKey        []byte
	Registered       bool
	Balance          uint64
	Budget           uint64
	BudgetExpiration uint64
	// Coins maps the nullifier of every spendable normal coin to its value.
	Coins   map[string]uint64
	Pending bool
}

// GetState computes balance and budget from the current coin set.
func (w *Wallet) GetState(_ context.Context) (*State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.configured(); err != nil {
		return nil, err
	}
	now := w.now()
	out := &State{
		Identity:   w.st.Identity,
		PublicKey:  w.keys.PublicKey(),
		Registered: w.st.Credential != nil,
		Balance:    w.st.balance(w.params, now),
		Coins:      make(map[string]uint64),
		Pending:    w.pending != nil,
	}
	for _, c := range w.st.spendable(w.params, now) {
		out.Coins[c.Nullifier] = c.Value
	}
	if b := w.st.activeBudget(w.params, now); b != nil {
		out.Budget, out.BudgetExpiration = b.Value, b.Expiration
	}
	return out, nil
}

// Balance is the total of the spendable normal coins.
func (w *Wallet) Balance() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.st == nil {
		return 0
	}
	return w.st.balance(w.params, w.now())
}

// Budget is the value of the active budget coin, 0 if none or expired.
func (w *Wallet) Budget() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.st == nil {
		return 0
	}
	if b := w.st.activeBudget(w.params, w.now()); b != nil {
		return b.Value
	}
	return 0
}

// SetAppData stores keys[i] = values[i].
func (w *Wallet) SetAppData(ctx context.Context, keys, values []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.configured(); err != nil {
		return err
	}
	if len(keys) != len(values) {
		return errors.Wrapf(utt.ErrInvalidArgument, "%d keys, %d values", len(keys), len(values))
	}
	data := make(map[string]string, len(keys))
	for i, k := range keys {
		data[k] = values[i]
	}
	if err := w.store.SetAppData(ctx, data); err != nil {
		return errors.Wrap(utt.ErrStorageFailure, err.Error())
	}
	return nil
}

// GetAppData returns the values for keys in order; missing keys yield "".
func (w *Wallet) GetAppData(ctx context.Context, keys []string) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.configured(); err != nil {
		return nil, err
	}
	data, err := w.store.GetAppData(ctx, keys)
	if err != nil {
		return nil, errors.Wrap(utt.ErrStorageFailure, err.Error())
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = data[k]
	}
	return out, nil
}
