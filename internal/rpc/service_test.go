package rpc_test

import (
	"context"
	"net"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"privwallet/internal/metrics"
	"privwallet/internal/rpc"
	"privwallet/internal/signer"
	"privwallet/internal/transactions"
	"privwallet/internal/transactions/register"
	"privwallet/internal/utt"
	"privwallet/internal/wallet"
)

const bufSize = 1024 * 1024

type harness struct {
	client  *rpc.Client
	cluster *signer.Cluster
	metrics *metrics.Collector
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	p, keys, err := utt.Setup(utt.SetupConfig{N: 4, F: 1, RangeBits: 8})
	require.NoError(t, err)
	cluster, err := signer.NewCluster(p, keys)
	require.NoError(t, err)

	store, err := wallet.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	w, err := wallet.Open(context.Background(), p, store)
	require.NoError(t, err)

	m := metrics.NewCollector()
	lis := bufconn.Listen(bufSize)
	s := rpc.NewServer(w, zerolog.Nop(), m).GRPCServer()
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &harness{client: rpc.NewClient(conn), cluster: cluster, metrics: m}
}

func (h *harness) register(t *testing.T, ctx context.Context) {
	t.Helper()
	res, err := h.client.Register(ctx, &rpc.RegisterRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RCM1)
	assert.NotEmpty(t, res.PID)

	req, err := register.UnmarshalRequest(res.Request)
	require.NoError(t, err)
	resps, failed := h.cluster.SignRegistration(ctx, req)
	require.Empty(t, failed)

	update := &rpc.UpdateRegistrationRequest{}
	for _, r := range resps {
		raw, err := cbor.Marshal(r.Share)
		require.NoError(t, err)
		update.Shares = append(update.Shares, raw)
		update.S2, err = r.S2.MarshalBinary()
		require.NoError(t, err)
	}
	ok, err := h.client.UpdateRegistration(ctx, update)
	require.NoError(t, err)
	assert.True(t, ok.Succ)
}

func (h *harness) sign(t *testing.T, ctx context.Context, raw []byte) []rpc.ValidatorShares {
	t.Helper()
	tx, err := transactions.Unmarshal(raw)
	require.NoError(t, err)
	shares, failed := h.cluster.SignTx(ctx, tx)
	require.Empty(t, failed)
	enc, err := rpc.EncodeShares(shares)
	require.NoError(t, err)
	return enc
}

func requireCode(t *testing.T, want codes.Code, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, status.Code(err), "%v", err)
}

func TestWalletService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.Register(ctx, &rpc.RegisterRequest{})
	requireCode(t, codes.NotFound, err)

	conf, err := h.client.Configure(ctx, &rpc.ConfigureRequest{UserID: "alice"})
	require.NoError(t, err)
	assert.True(t, conf.Succ)
	assert.NotEmpty(t, conf.PublicKey)
	_, err = h.client.Configure(ctx, &rpc.ConfigureRequest{UserID: "alice"})
	requireCode(t, codes.AlreadyExists, err)

	_, err = h.client.GenerateMintTx(ctx, &rpc.GenerateMintTxRequest{Amount: 10})
	requireCode(t, codes.NotFound, err)

	h.register(t, ctx)
	_, err = h.client.Register(ctx, &rpc.RegisterRequest{})
	requireCode(t, codes.AlreadyExists, err)

	mint, err := h.client.GenerateMintTx(ctx, &rpc.GenerateMintTxRequest{Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, "mint", mint.Type)
	assert.True(t, mint.Final)
	assert.Equal(t, 1, mint.NumOfOutputCoins)
	assert.NotEmpty(t, mint.TxID)

	_, err = h.client.GenerateBurnTx(ctx, &rpc.GenerateBurnTxRequest{Amount: 1})
	requireCode(t, codes.FailedPrecondition, err)

	sigs := h.sign(t, ctx, mint.Tx)
	_, err = h.client.ClaimCoins(ctx, &rpc.ClaimCoinsRequest{Type: "burn", Tx: mint.Tx, Shares: sigs})
	requireCode(t, codes.FailedPrecondition, err)
	_, err = h.client.ClaimCoins(ctx, &rpc.ClaimCoinsRequest{Type: "bogus", Tx: mint.Tx, Shares: sigs})
	requireCode(t, codes.InvalidArgument, err)
	_, err = h.client.ClaimCoins(ctx, &rpc.ClaimCoinsRequest{Type: "mint", Tx: mint.Tx, Shares: sigs[:1]})
	requireCode(t, codes.Aborted, err)

	claimed, err := h.client.ClaimCoins(ctx, &rpc.ClaimCoinsRequest{Type: "mint", Tx: mint.Tx, Shares: sigs})
	require.NoError(t, err)
	require.Len(t, claimed.Coins, 1)
	assert.Equal(t, uint64(100), claimed.Coins[0].Value)
	assert.Equal(t, "normal", claimed.Coins[0].Type)

	st, err := h.client.GetState(ctx, &rpc.GetStateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "alice", st.UserID)
	assert.True(t, st.Registered)
	assert.Equal(t, uint64(100), st.Balance)
	assert.Equal(t, map[string]uint64{claimed.Coins[0].Nullifier: 100}, st.Coins)
	assert.False(t, st.Pending)

	burn, err := h.client.GenerateBurnTx(ctx, &rpc.GenerateBurnTxRequest{Amount: 40})
	require.NoError(t, err)
	assert.Equal(t, "burn", burn.Type)
	st, err = h.client.GetState(ctx, &rpc.GetStateRequest{})
	require.NoError(t, err)
	assert.True(t, st.Pending)

	abandoned, err := h.client.AbandonTx(ctx, &rpc.AbandonTxRequest{})
	require.NoError(t, err)
	assert.True(t, abandoned.Abandoned)

	transfer, err := h.client.GenerateTransferTx(ctx, &rpc.GenerateTransferTxRequest{Amount: 40, RecipientID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "transfer", transfer.Type)
	assert.Equal(t, 2, transfer.NumOfOutputCoins)
	claimed, err = h.client.ClaimCoins(ctx, &rpc.ClaimCoinsRequest{
		Type: "transfer", Tx: transfer.Tx, Shares: h.sign(t, ctx, transfer.Tx),
	})
	require.NoError(t, err)
	assert.Len(t, claimed.Coins, 2)

	st, err = h.client.GetState(ctx, &rpc.GetStateRequest{})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), st.Balance)
	assert.Len(t, st.Coins, 2)

	assert.Positive(t, h.metrics.Value(metrics.Errors, map[string]string{"code": codes.NotFound.String()}))
}

func TestAppDataService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.SetAppData(ctx, &rpc.SetAppDataRequest{Keys: []string{"k"}, Values: nil})
	requireCode(t, codes.InvalidArgument, err)

	ok, err := h.client.SetAppData(ctx, &rpc.SetAppDataRequest{Keys: []string{"k", "j"}, Values: []string{"v", "w"}})
	require.NoError(t, err)
	assert.True(t, ok.Succ)

	got, err := h.client.GetAppData(ctx, &rpc.GetAppDataRequest{Keys: []string{"j", "none", "k"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"w", "", "v"}, got.Values)
}

func TestUpdateRegistrationRejectsGarbage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.client.Configure(ctx, &rpc.ConfigureRequest{UserID: "bob"})
	require.NoError(t, err)

	_, err = h.client.UpdateRegistration(ctx, &rpc.UpdateRegistrationRequest{Shares: [][]byte{{0xff}}})
	requireCode(t, codes.InvalidArgument, err)

	_, err = h.client.Register(ctx, &rpc.RegisterRequest{})
	require.NoError(t, err)
	var s2 utt.Scalar
	raw, err := s2.MarshalBinary()
	require.NoError(t, err)
	_, err = h.client.UpdateRegistration(ctx, &rpc.UpdateRegistrationRequest{S2: raw})
	requireCode(t, codes.Aborted, err)
}
