package wallet_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"privwallet/internal/signer"
	"privwallet/internal/transactions"
	"privwallet/internal/utt"
	"privwallet/internal/wallet"
)

type network struct {
	p       *utt.GlobalParams
	cluster *signer.Cluster
}

func newNetwork(t *testing.T, useBudget bool) *network {
	t.Helper()
	p, keys, err := utt.Setup(utt.SetupConfig{N: 4, F: 1, RangeBits: 8, UseBudget: useBudget})
	require.NoError(t, err)
	c, err := signer.NewCluster(p, keys)
	require.NoError(t, err)
	return &network{p: p, cluster: c}
}

// flakyStorage fails Save while fail is set.
type flakyStorage struct {
	wallet.Storage
	mu   sync.Mutex
	fail bool
}

func (f *flakyStorage) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *flakyStorage) Save(ctx context.Context, state []byte) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Storage.Save(ctx, state)
}

func (n *network) open(t *testing.T, store wallet.Storage) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Open(context.Background(), n.p, store)
	require.NoError(t, err)
	return w
}

func (n *network) newWallet(t *testing.T, identity string) (*wallet.Wallet, *flakyStorage) {
	t.Helper()
	fs, err := wallet.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	store := &flakyStorage{Storage: fs}
	w := n.open(t, store)
	require.NoError(t, w.Configure(context.Background(), identity, nil))
	return w, store
}

func (n *network) registered(t *testing.T, identity string) (*wallet.Wallet, *flakyStorage) {
	t.Helper()
	w, store := n.newWallet(t, identity)
	require.NoError(t, w.RegisterWith(context.Background(), n.cluster))
	return w, store
}

func (n *network) mint(t *testing.T, w *wallet.Wallet, amount uint64) {
	t.Helper()
	ctx := context.Background()
	tx, err := w.Mint(ctx, amount)
	require.NoError(t, err)
	_, err = w.Settle(ctx, n.cluster, tx)
	require.NoError(t, err)
}

func (n *network) budget(t *testing.T, w *wallet.Wallet, identity string, amount uint64) {
	t.Helper()
	ctx := context.Background()
	pk, err := w.PublicKey()
	require.NoError(t, err)
	tx, err := transactions.IssueBudget(n.p, transactions.BudgetOrder{
		Identity: identity, PublicKey: pk, Amount: amount, Expiration: time.Now().Add(time.Hour),
	}, utt.ECIES{})
	require.NoError(t, err)
	coins, err := w.Settle(ctx, n.cluster, tx)
	require.NoError(t, err)
	require.Len(t, coins, 1)
}
