// main.go - Validator daemon: trusted setup, the signing endpoint and budget
// issuance.
//
// Usage:
//
//	validatord keygen --n 4 --f 1 --out deploy/
//	validatord --config validator1.yaml serve
//	validatord --config wallet.yaml issue-budget --identity alice --public-key <hex> --amount 100
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli"

	"privwallet/internal/config"
	"privwallet/internal/health"
	"privwallet/internal/logging"
	"privwallet/internal/metrics"
	"privwallet/internal/rpc"
	"privwallet/internal/signer"
	"privwallet/internal/transactions"
	"privwallet/internal/utt"
	"privwallet/p2p"
)

const version = "0.3.0"

func main() {
	app := cli.NewApp()
	app.Name = "validatord"
	app.Version = version
	app.Usage = "threshold signer for private coin wallets"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "load configuration from `FILE`"},
	}
	app.Commands = []cli.Command{keygenCmd(), serveCmd(), issueBudgetCmd()}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "validatord:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func keygenCmd() cli.Command {
	return cli.Command{
		Name:  "keygen",
		Usage: "generate public parameters and one key per validator",
		Flags: []cli.Flag{
			cli.IntFlag{Name: "n", Value: 4, Usage: "number of validators (3f+1)"},
			cli.IntFlag{Name: "f", Value: 1, Usage: "tolerated faulty validators"},
			cli.IntFlag{Name: "range-bits", Value: utt.DefaultRangeBits, Usage: "bit length of coin values"},
			cli.IntFlag{Name: "max-inputs", Value: utt.DefaultMaxInputs, Usage: "input coins per transaction, at least 2"},
			cli.BoolFlag{Name: "budget", Usage: "require budget coins on transfers"},
			cli.StringFlag{Name: "out", Value: ".", Usage: "output `DIR`"},
		},
		Action: func(c *cli.Context) error {
			p, keys, err := utt.Setup(utt.SetupConfig{
				N:         c.Int("n"),
				F:         c.Int("f"),
				UseBudget: c.Bool("budget"),
				MaxInputs: c.Int("max-inputs"),
				RangeBits: c.Int("range-bits"),
			})
			if err != nil {
				return err
			}
			out := c.String("out")
			if err := os.MkdirAll(out, 0o755); err != nil {
				return errors.Wrap(err, "create output dir")
			}
			if err := utt.SaveParamsFile(p, filepath.Join(out, "params.cbor")); err != nil {
				return err
			}
			for _, k := range keys {
				path := filepath.Join(out, fmt.Sprintf("validator%d.key", k.Index))
				if err := utt.SaveValidatorKey(k, path); err != nil {
					return err
				}
			}
			fmt.Printf("wrote params %x and %d validator keys to %s\n", p.ID()[:8], len(keys), out)
			return nil
		},
	}
}

// pinger is implemented by the networked nullifier stores.
type pinger interface {
	Ping(ctx context.Context) error
}

func openStore(ctx context.Context, cfg *config.Config, index int) (signer.NullifierStore, func(), error) {
	nop := func() {}
	switch cfg.Nullifiers.Backend {
	case "memory":
		return signer.NewLedger(), nop, nil
	case "file":
		l, err := signer.OpenLedger(cfg.Nullifiers.Path)
		return l, nop, err
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Nullifiers.RedisAddr})
		s := signer.NewRedisStore(client, fmt.Sprintf("utt:nullifier:%d:", index))
		if err := s.Ping(ctx); err != nil {
			client.Close()
			return nil, nop, errors.Wrap(err, "connect redis")
		}
		return s, func() { client.Close() }, nil
	case "postgres":
		pool, err := signer.NewPostgresPool(ctx, cfg.Nullifiers.DatabaseURL)
		if err != nil {
			return nil, nop, err
		}
		s, err := signer.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nop, err
		}
		return s, pool.Close, nil
	}
	return nil, nop, errors.Errorf("unknown nullifier backend %q", cfg.Nullifiers.Backend)
}

func serveCmd() cli.Command {
	return cli.Command{
		Name:  "serve",
		Usage: "run the signing endpoint",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log.Level, cfg.Log.File, cfg.Log.AuditFile)
			if err != nil {
				return err
			}
			defer log.Close()

			p, err := cfg.LoadParams()
			if err != nil {
				return err
			}
			key, err := utt.LoadValidatorKey(p, cfg.KeyPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openStore(ctx, cfg, key.Index)
			if err != nil {
				return err
			}
			defer closeStore()

			m := metrics.NewCollector()
			checker := health.NewChecker(version)
			if pg, ok := store.(pinger); ok {
				checker.Register("nullifier_store", func() error {
					pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					return pg.Ping(pctx)
				})
			} else {
				checker.Register("nullifier_store", nil)
			}

			s, err := signer.New(p, key, store,
				signer.WithLogger(log.Component("signer")),
				signer.WithMetrics(m))
			if err != nil {
				return err
			}
			id := fmt.Sprintf("validator-%d", key.Index)
			node := p2p.NewNode(id, s,
				p2p.WithNodeLogger(log.Component("p2p")),
				p2p.WithHealth(checker),
				p2p.WithNodeMetrics(m),
				p2p.WithRateLimit(cfg.RateLimit.Max, cfg.RateLimit.Window),
				p2p.WithRequestTimeout(cfg.Timeout))

			log.Audit("validator_started", map[string]interface{}{
				"validator": key.Index, "params": hex.EncodeToString(p.ID()), "range": p.Range.Name(),
			})
			errc := make(chan error, 1)
			go func() { errc <- node.Listen(cfg.Listen) }()
			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			log.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()
			return node.Shutdown(sctx)
		},
	}
}

func issueBudgetCmd() cli.Command {
	return cli.Command{
		Name:  "issue-budget",
		Usage: "issue a budget coin and print the claim request for the owner's wallet",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "identity", Usage: "owner identity"},
			cli.StringFlag{Name: "public-key", Usage: "owner encryption key, hex"},
			cli.Uint64Flag{Name: "amount", Usage: "budget amount"},
			cli.DurationFlag{Name: "valid-for", Value: 30 * 24 * time.Hour, Usage: "time until the budget expires"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			p, err := cfg.LoadParams()
			if err != nil {
				return err
			}
			pk, err := hex.DecodeString(c.String("public-key"))
			if err != nil {
				return errors.Wrap(err, "public key")
			}
			tx, err := transactions.IssueBudget(p, transactions.BudgetOrder{
				Identity:   c.String("identity"),
				PublicKey:  pk,
				Amount:     c.Uint64("amount"),
				Expiration: time.Now().Add(c.Duration("valid-for")),
			}, utt.ECIES{})
			if err != nil {
				return err
			}
			client := p2p.NewClient("issuer", p2p.PeersFromURLs(cfg.Validators), cfg.Timeout, logging.Nop().Logger)
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()
			shares, failed := client.SignTx(ctx, tx)
			for _, f := range failed {
				fmt.Fprintln(os.Stderr, "warning:", f.Error())
			}
			if len(shares) < p.Threshold() {
				return errors.Wrapf(utt.ErrIncompleteClaim, "%d of %d validators signed", len(shares), p.Threshold())
			}
			raw, err := tx.Marshal()
			if err != nil {
				return err
			}
			sigs, err := rpc.EncodeShares(shares)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rpc.ClaimCoinsRequest{Type: tx.Type.String(), Tx: raw, Shares: sigs})
		},
	}
}
