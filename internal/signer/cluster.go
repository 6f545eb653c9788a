package signer

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"privwallet/internal/transactions"
	"privwallet/internal/transactions/register"
	"privwallet/internal/utt"
)

// Cluster runs every validator in-process. It fans requests out to all of
// them and collects what comes back, the way a network client would.
type Cluster struct {
	mu      sync.RWMutex
	signers []*CoinsSigner
	down    map[int]bool
}

// NewCluster creates one signer per key, each with its own in-memory ledger.
func NewCluster(p *utt.GlobalParams, keys []*utt.ValidatorKey, opts ...Option) (*Cluster, error) {
	c := &Cluster{down: make(map[int]bool)}
	for _, k := range keys {
		s, err := New(p, k, NewLedger(), opts...)
		if err != nil {
			return nil, err
		}
		c.signers = append(c.signers, s)
	}
	return c, nil
}

// NewClusterOf wraps existing signers.
func NewClusterOf(signers ...*CoinsSigner) *Cluster {
	return &Cluster{signers: signers, down: make(map[int]bool)}
}

// SetDown makes validator index unreachable (true) or reachable again.
func (c *Cluster) SetDown(index int, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down[index] = down
}

// Signers returns the validators in index order.
func (c *Cluster) Signers() []*CoinsSigner { return c.signers }

func (c *Cluster) reachable() []*CoinsSigner {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*CoinsSigner
	for _, s := range c.signers {
		if !c.down[s.Index()] {
			out = append(out, s)
		}
	}
	return out
}

// ValidatorError is the failure of one validator during a fan-out.
type ValidatorError struct {
	Validator int
	Err       error
}

func (e ValidatorError) Error() string {
	return errors.Wrapf(e.Err, "validator %d", e.Validator).Error()
}

// SignTx asks every reachable validator to sign tx. Shares are keyed by
// validator index; individual failures are returned alongside.
func (c *Cluster) SignTx(ctx context.Context, tx *transactions.Transaction) (map[int][]SignatureShare, []ValidatorError) {
	var mu sync.Mutex
	shares := make(map[int][]SignatureShare)
	var failed []ValidatorError
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range c.reachable() {
		s := s
		g.Go(func() error {
			res, err := s.Sign(gctx, tx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, ValidatorError{Validator: s.Index(), Err: err})
				return nil
			}
			shares[s.Index()] = res
			return nil
		})
	}
	_ = g.Wait()
	return shares, failed
}

// SignRegistration asks every reachable validator to co-sign req.
func (c *Cluster) SignRegistration(ctx context.Context, req *register.Request) (map[int]*register.Response, []ValidatorError) {
	var mu sync.Mutex
	resps := make(map[int]*register.Response)
	var failed []ValidatorError
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range c.reachable() {
		s := s
		g.Go(func() error {
			res, err := s.SignRegistration(gctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, ValidatorError{Validator: s.Index(), Err: err})
				return nil
			}
			resps[s.Index()] = res
			return nil
		})
	}
	_ = g.Wait()
	return resps, failed
}
