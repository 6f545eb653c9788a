package wallet

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"privwallet/internal/signer"
	"privwallet/internal/transactions"
	"privwallet/internal/transactions/register"
	"privwallet/internal/utt"
)

// ValidatorTransport carries requests to every validator and returns what
// came back. Implemented by signer.Cluster in-process and p2p.Client over HTTP.
type ValidatorTransport interface {
	SignTx(ctx context.Context, tx *transactions.Transaction) (map[int][]signer.SignatureShare, []signer.ValidatorError)
	SignRegistration(ctx context.Context, req *register.Request) (map[int]*register.Response, []signer.ValidatorError)
}

// RegisterWith runs both registration phases against t.
func (w *Wallet) RegisterWith(ctx context.Context, t ValidatorTransport) error {
	req, err := w.Register(ctx)
	if err != nil {
		return err
	}
	resps, failed := t.SignRegistration(ctx, req)
	for _, f := range failed {
		if errors.Is(f.Err, utt.ErrAlreadyRegistered) && len(resps) < w.params.Threshold() {
			return errors.Wrap(utt.ErrAlreadyRegistered, f.Error())
		}
		w.log.Warn().Int("validator", f.Validator).Err(f.Err).Msg("registration share missing")
	}

	// Honest registrars agree on s2; try the largest agreeing group first.
	groups := make(map[string][]*register.Response)
	for _, r := range resps {
		k := r.S2.Text(16)
		groups[k] = append(groups[k], r)
	}
	ordered := make([][]*register.Response, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })

	lastErr := errors.Wrapf(utt.ErrIncompleteClaim, "%d registration responses", len(resps))
	for _, g := range ordered {
		if len(g) < w.params.Threshold() {
			break
		}
		shares := make([]utt.BlindShare, len(g))
		for i, r := range g {
			shares[i] = r.Share
		}
		err := w.UpdateRegistration(ctx, shares, g[0].S2)
		if err == nil {
			return nil
		}
		if !errors.Is(err, utt.ErrIncompleteClaim) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// Settle collects shares for tx from t and claims the outputs.
func (w *Wallet) Settle(ctx context.Context, t ValidatorTransport, tx *transactions.Transaction) ([]*utt.Coin, error) {
	shares, failed := t.SignTx(ctx, tx)
	for _, f := range failed {
		w.log.Warn().Int("validator", f.Validator).Err(f.Err).Str("tx", tx.ID()).Msg("signature share missing")
	}
	coins, err := w.ClaimCoins(ctx, tx, shares)
	if err != nil && len(failed) > 0 && errors.Is(err, utt.ErrIncompleteClaim) {
		// Surface the validators' reason, e.g. a reused nullifier.
		return nil, errors.Wrap(failed[0].Err, err.Error())
	}
	return coins, err
}
