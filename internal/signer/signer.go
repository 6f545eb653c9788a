// Package signer is the validator side of the protocol: it verifies
// transactions, records their nullifiers and answers with blind shares of the
// output coin signatures. It also co-signs user registrations.
package signer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"privwallet/internal/metrics"
	"privwallet/internal/transactions"
	"privwallet/internal/transactions/register"
	"privwallet/internal/utt"
)

const registrationPrefix = "registration:"

// SignatureShare is one validator's share for one output of a transaction.
type SignatureShare struct {
	Validator int            `cbor:"1,keyasint"`
	Output    int            `cbor:"2,keyasint"`
	Blind     utt.BlindShare `cbor:"3,keyasint"`
}

// CoinsSigner holds one validator's key share.
type CoinsSigner struct {
	params  *utt.GlobalParams
	key     *utt.ValidatorKey
	store   NullifierStore
	log     zerolog.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// Option configures a CoinsSigner.
type Option func(*CoinsSigner)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(s *CoinsSigner) { s.log = l } }

// WithMetrics records signing counters and latency in c.
func WithMetrics(c *metrics.Collector) Option { return func(s *CoinsSigner) { s.metrics = c } }

// WithClock overrides the time used for budget expiry checks.
func WithClock(now func() time.Time) Option { return func(s *CoinsSigner) { s.now = now } }

// New returns a signer for key.
func New(p *utt.GlobalParams, key *utt.ValidatorKey, store NullifierStore, opts ...Option) (*CoinsSigner, error) {
	if p == nil || key == nil || key.Coin == nil || key.Registration == nil {
		return nil, errors.New("signer: params and key are required")
	}
	if store == nil {
		return nil, errors.New("signer: nullifier store is required")
	}
	s := &CoinsSigner{params: p, key: key, store: store, log: zerolog.Nop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With().Int("validator", key.Index).Logger()
	return s, nil
}

// Index is the validator's 1-based index.
func (s *CoinsSigner) Index() int { return s.key.Index }

func (s *CoinsSigner) record(kind string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordSign(kind, time.Since(start), err)
	if err != nil {
		s.metrics.RecordError(utt.CodeOf(err))
	}
}

// Sign verifies tx, marks its nullifiers spent and returns a share for every
// output. Submitting the same transaction again returns the same shares; a
// different transaction reusing a nullifier is rejected.
func (s *CoinsSigner) Sign(ctx context.Context, tx *transactions.Transaction) (shares []SignatureShare, err error) {
	start := time.Now()
	kind := "unknown"
	if tx != nil {
		kind = tx.Type.String()
	}
	defer func() { s.record(kind, start, err) }()

	if err := transactions.Verify(ctx, s.params, tx, s.now()); err != nil {
		s.log.Warn().Err(err).Str("type", kind).Msg("rejected transaction")
		return nil, err
	}
	id := tx.ID()
	conflicts, err := s.store.Reserve(ctx, tx.Nullifiers, id)
	if err != nil {
		return nil, errors.Wrap(utt.ErrStorageFailure, err.Error())
	}
	if len(conflicts) > 0 {
		s.log.Warn().Str("tx", id).Strs("nullifiers", conflicts).Msg("double spend attempt")
		return nil, errors.Wrapf(utt.ErrNullifierReused, "%d nullifier(s) already spent", len(conflicts))
	}
	shares = make([]SignatureShare, 0, len(tx.Outputs))
	for k, out := range tx.Outputs {
		bs, err := s.params.Coin.BlindSign(s.key.Coin, &out.Request)
		if err != nil {
			return nil, err
		}
		shares = append(shares, SignatureShare{Validator: s.key.Index, Output: k, Blind: *bs})
	}
	s.log.Info().Str("tx", id).Str("type", kind).Int("outputs", len(shares)).Msg("signed transaction")
	return shares, nil
}

// SignRegistration co-signs a registration. A user may register once: a later
// request for the same identity is answered only if it carries the same rcm1.
func (s *CoinsSigner) SignRegistration(ctx context.Context, req *register.Request) (resp *register.Response, err error) {
	start := time.Now()
	defer func() { s.record("registration", start, err) }()

	resp, err = register.Sign(s.params, s.key.Registration, req)
	if err != nil {
		s.log.Warn().Err(err).Msg("rejected registration")
		return nil, err
	}
	pid := utt.HashPID(req.Identity)
	rcm := req.RCM1()
	conflicts, err := s.store.Reserve(ctx, []string{registrationPrefix + pid.Text(16)}, rcm.Hex())
	if err != nil {
		return nil, errors.Wrap(utt.ErrStorageFailure, err.Error())
	}
	if len(conflicts) > 0 {
		return nil, errors.Wrapf(utt.ErrAlreadyRegistered, "identity %q", req.Identity)
	}
	if s.metrics != nil {
		s.metrics.RecordRegistration()
	}
	s.log.Info().Str("identity", req.Identity).Msg("signed registration")
	return resp, nil
}
