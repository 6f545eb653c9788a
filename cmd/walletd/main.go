// main.go - Wallet daemon and command line client.
//
// "serve" exposes the wallet over gRPC for applications that collect
// signatures themselves. The other commands drive the wallet directly and
// talk to the validators listed in the configuration.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli"

	"privwallet/internal/config"
	"privwallet/internal/logging"
	"privwallet/internal/metrics"
	"privwallet/internal/rpc"
	"privwallet/internal/transactions"
	"privwallet/internal/wallet"
	"privwallet/p2p"
)

const version = "0.3.0"

func main() {
	app := cli.NewApp()
	app.Name = "walletd"
	app.Version = version
	app.Usage = "private coin wallet"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "load configuration from `FILE`"},
		cli.StringFlag{Name: "wallet, w", Value: "default", Usage: "wallet `NAME` within the storage backend"},
	}
	app.Commands = []cli.Command{
		serveCmd(),
		{Name: "init", Usage: "configure the wallet for `IDENTITY`", Action: withWallet(initWallet)},
		{Name: "register", Usage: "register with the validators", Action: withWallet(registerWallet)},
		{Name: "mint", Usage: "mint `AMOUNT` into the wallet", Action: withWallet(mint)},
		{Name: "burn", Usage: "burn `AMOUNT` from the wallet", Action: withWallet(burn)},
		{Name: "transfer", Usage: "pay `AMOUNT` to `RECIPIENT` holding hex `PUBKEY`", Action: withWallet(transfer)},
		{Name: "claim", Usage: "claim coins from a JSON claim request in `FILE`", Action: withWallet(claimFile)},
		{Name: "state", Usage: "print the wallet state", Action: withWallet(printState)},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "walletd:", err)
		os.Exit(1)
	}
}

// env is everything a command needs.
type env struct {
	cfg       *config.Config
	log       *logging.Logger
	wallet    *wallet.Wallet
	transport *p2p.Client
	metrics   *metrics.Collector
}

func openStorage(cfg *config.Config, name string) (wallet.Storage, func(), error) {
	switch cfg.Storage.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		return wallet.NewRedisStorage(client, name), func() { client.Close() }, nil
	default:
		s, err := wallet.NewFileStorage(filepath.Join(cfg.Storage.DataDir, name))
		return s, func() {}, err
	}
}

func withWallet(run func(context.Context, *env, cli.Args) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		cfg, err := config.Load(c.GlobalString("config"))
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
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
		store, closeStore, err := openStorage(cfg, c.GlobalString("wallet"))
		if err != nil {
			return err
		}
		defer closeStore()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		m := metrics.NewCollector()
		w, err := wallet.Open(ctx, p, store, wallet.WithLogger(log.Component("wallet")), wallet.WithMetrics(m))
		if err != nil {
			return err
		}
		e := &env{
			cfg:       cfg,
			log:       log,
			wallet:    w,
			transport: p2p.NewClient(c.GlobalString("wallet"), p2p.PeersFromURLs(cfg.Validators), cfg.Timeout, log.Component("p2p")),
			metrics:   m,
		}
		return run(ctx, e, c.Args())
	}
}

func amountArg(args cli.Args, i int) (uint64, error) {
	var v uint64
	if _, err := fmt.Sscan(args.Get(i), &v); err != nil || v == 0 {
		return 0, errors.Errorf("invalid amount %q", args.Get(i))
	}
	return v, nil
}

func initWallet(ctx context.Context, e *env, args cli.Args) error {
	if err := e.wallet.Configure(ctx, args.First(), nil); err != nil {
		return err
	}
	pk, err := e.wallet.PublicKey()
	if err != nil {
		return err
	}
	e.log.Audit("wallet_configured", map[string]interface{}{"identity": args.First()})
	fmt.Println("public key:", hex.EncodeToString(pk))
	return nil
}

func registerWallet(ctx context.Context, e *env, _ cli.Args) error {
	if err := e.wallet.RegisterWith(ctx, e.transport); err != nil {
		return err
	}
	e.log.Audit("wallet_registered", nil)
	fmt.Println("registered")
	return nil
}

// settle submits tx and, for a merge step, keeps going until the final
// transaction of the operation has been claimed.
func settle(ctx context.Context, e *env, tx *transactions.Transaction, final bool, next func() (*wallet.TxResult, error)) error {
	for {
		coins, err := e.wallet.Settle(ctx, e.transport, tx)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s: %d coin(s) claimed\n", tx.Type, tx.ID(), len(coins))
		if final || next == nil {
			return nil
		}
		res, err := next()
		if err != nil {
			return err
		}
		tx, final = res.Tx, res.Final
	}
}

func mint(ctx context.Context, e *env, args cli.Args) error {
	amount, err := amountArg(args, 0)
	if err != nil {
		return err
	}
	tx, err := e.wallet.Mint(ctx, amount)
	if err != nil {
		return err
	}
	return settle(ctx, e, tx, true, nil)
}

func burn(ctx context.Context, e *env, args cli.Args) error {
	amount, err := amountArg(args, 0)
	if err != nil {
		return err
	}
	next := func() (*wallet.TxResult, error) { return e.wallet.Burn(ctx, amount) }
	res, err := next()
	if err != nil {
		return err
	}
	return settle(ctx, e, res.Tx, res.Final, next)
}

func transfer(ctx context.Context, e *env, args cli.Args) error {
	amount, err := amountArg(args, 0)
	if err != nil {
		return err
	}
	var pk []byte
	if args.Get(2) != "" {
		if pk, err = hex.DecodeString(args.Get(2)); err != nil {
			return errors.Wrap(err, "recipient public key")
		}
	}
	next := func() (*wallet.TxResult, error) { return e.wallet.Transfer(ctx, args.Get(1), pk, amount) }
	res, err := next()
	if err != nil {
		return err
	}
	return settle(ctx, e, res.Tx, res.Final, next)
}

func claimFile(ctx context.Context, e *env, args cli.Args) error {
	raw, err := os.ReadFile(args.First())
	if err != nil {
		return errors.Wrap(err, "read claim request")
	}
	var req rpc.ClaimCoinsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errors.Wrap(err, "decode claim request")
	}
	tx, err := transactions.Unmarshal(req.Tx)
	if err != nil {
		return err
	}
	shares, err := rpc.DecodeShares(req.Shares)
	if err != nil {
		return err
	}
	coins, err := e.wallet.ClaimCoins(ctx, tx, shares)
	if err != nil {
		return err
	}
	for _, c := range coins {
		fmt.Printf("claimed %s coin %s worth %d\n", c.Type, c.Nullifier, c.Value)
	}
	return nil
}

func printState(ctx context.Context, e *env, _ cli.Args) error {
	st, err := e.wallet.GetState(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func serveCmd() cli.Command {
	return cli.Command{
		Name:  "serve",
		Usage: "serve the wallet over gRPC",
		Action: withWallet(func(ctx context.Context, e *env, _ cli.Args) error {
			ln, err := net.Listen("tcp", e.cfg.Listen)
			if err != nil {
				return errors.Wrap(err, "listen")
			}
			srv := rpc.NewServer(e.wallet, e.log.Component("rpc"), e.metrics).GRPCServer()
			errc := make(chan error, 1)
			go func() { errc <- srv.Serve(ln) }()
			e.log.Info().Str("addr", ln.Addr().String()).Msg("wallet service listening")
			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			e.log.Info().Msg("shutting down")
			srv.GracefulStop()
			return nil
		}),
	}
}
