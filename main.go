// main.go - In-process walkthrough of the wallet protocol.
//
// Four validators (f=1) run in memory. Alice and Bob register, Alice mints
// coins, receives a budget, pays Bob and burns part of her change.
//
// Usage:
//
//	go run .
package main

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"privwallet/internal/signer"
	"privwallet/internal/transactions"
	"privwallet/internal/utt"
	"privwallet/internal/wallet"
)

// report is the final state of the walkthrough.
type report struct {
	Alice, Bob *wallet.State
}

func newWallet(ctx context.Context, p *utt.GlobalParams, dir, identity string, log zerolog.Logger) (*wallet.Wallet, error) {
	store, err := wallet.NewFileStorage(dir)
	if err != nil {
		return nil, err
	}
	w, err := wallet.Open(ctx, p, store, wallet.WithLogger(log.With().Str("wallet", identity).Logger()))
	if err != nil {
		return nil, err
	}
	if err := w.Configure(ctx, identity, nil); err != nil {
		return nil, err
	}
	return w, nil
}

func run(ctx context.Context, dataDir string, log zerolog.Logger) (*report, error) {
	p, keys, err := utt.Setup(utt.SetupConfig{N: 4, F: 1, UseBudget: true, RangeBits: 16})
	if err != nil {
		return nil, err
	}
	cluster, err := signer.NewCluster(p, keys, signer.WithLogger(log.With().Str("component", "signer").Logger()))
	if err != nil {
		return nil, err
	}
	log.Info().Int("n", p.N).Int("f", p.F).Msg("validators ready")

	alice, err := newWallet(ctx, p, dataDir+"/alice", "alice", log)
	if err != nil {
		return nil, err
	}
	bob, err := newWallet(ctx, p, dataDir+"/bob", "bob", log)
	if err != nil {
		return nil, err
	}
	for _, w := range []*wallet.Wallet{alice, bob} {
		if err := w.RegisterWith(ctx, cluster); err != nil {
			return nil, errors.Wrap(err, "register")
		}
	}

	tx, err := alice.Mint(ctx, 100)
	if err != nil {
		return nil, err
	}
	if _, err := alice.Settle(ctx, cluster, tx); err != nil {
		return nil, errors.Wrap(err, "mint")
	}

	alicePK, err := alice.PublicKey()
	if err != nil {
		return nil, err
	}
	budget, err := transactions.IssueBudget(p, transactions.BudgetOrder{
		Identity: "alice", PublicKey: alicePK, Amount: 50, Expiration: time.Now().Add(24 * time.Hour),
	}, utt.ECIES{})
	if err != nil {
		return nil, err
	}
	if _, err := alice.Settle(ctx, cluster, budget); err != nil {
		return nil, errors.Wrap(err, "budget")
	}

	bobPK, err := bob.PublicKey()
	if err != nil {
		return nil, err
	}
	pay, err := alice.Transfer(ctx, "bob", bobPK, 30)
	if err != nil {
		return nil, err
	}
	// Every wallet scans the same signed transaction for its outputs.
	shares, failed := cluster.SignTx(ctx, pay.Tx)
	if len(failed) > 0 {
		log.Warn().Int("failed", len(failed)).Msg("some validators did not sign")
	}
	for _, w := range []*wallet.Wallet{alice, bob} {
		if _, err := w.ClaimCoins(ctx, pay.Tx, shares); err != nil {
			return nil, errors.Wrap(err, "claim transfer")
		}
	}

	res, err := alice.Burn(ctx, 20)
	if err != nil {
		return nil, err
	}
	if _, err := alice.Settle(ctx, cluster, res.Tx); err != nil {
		return nil, errors.Wrap(err, "burn")
	}

	out := &report{}
	if out.Alice, err = alice.GetState(ctx); err != nil {
		return nil, err
	}
	if out.Bob, err = bob.GetState(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	dir, err := os.MkdirTemp("", "privwallet-demo")
	if err != nil {
		log.Fatal().Err(err).Msg("create data dir")
	}
	defer os.RemoveAll(dir)

	r, err := run(context.Background(), dir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("walkthrough failed")
	}
	for name, st := range map[string]*wallet.State{"alice": r.Alice, "bob": r.Bob} {
		log.Info().Str("wallet", name).
			Uint64("balance", st.Balance).
			Uint64("budget", st.Budget).
			Int("coins", len(st.Coins)).
			Msg("final state")
	}
}
