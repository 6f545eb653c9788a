package p2p_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privwallet/internal/health"
	"privwallet/internal/metrics"
	"privwallet/internal/signer"
	"privwallet/internal/utt"
	"privwallet/internal/wallet"
	"privwallet/p2p"
)

func newSigners(t *testing.T) (*utt.GlobalParams, []*signer.CoinsSigner) {
	t.Helper()
	p, keys, err := utt.Setup(utt.SetupConfig{N: 4, F: 1, RangeBits: 8})
	require.NoError(t, err)
	out := make([]*signer.CoinsSigner, len(keys))
	for i, k := range keys {
		out[i], err = signer.New(p, k, signer.NewLedger())
		require.NoError(t, err)
	}
	return p, out
}

// startNetwork serves every signer on a loopback port.
func startNetwork(t *testing.T, signers []*signer.CoinsSigner) []string {
	t.Helper()
	urls := make([]string, len(signers))
	for i, s := range signers {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		n := p2p.NewNode(fmt.Sprintf("validator-%d", s.Index()), s)
		go func() { _ = n.Serve(ln) }()
		t.Cleanup(func() { _ = n.Shutdown(context.Background()) })
		urls[i] = "http://" + ln.Addr().String()
	}
	return urls
}

func post(t *testing.T, app *fiber.App, msg interface{}) (int, p2p.Reply) {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	req := httptest.NewRequest(fiber.MethodPost, "/v1/messages", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var reply p2p.Reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	return resp.StatusCode, reply
}

func TestWalletOverHTTP(t *testing.T) {
	p, signers := newSigners(t)
	client := p2p.NewClient("alice", p2p.PeersFromURLs(startNetwork(t, signers)), 5*time.Second, zerolog.Nop())
	ctx := context.Background()

	store, err := wallet.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	w, err := wallet.Open(ctx, p, store)
	require.NoError(t, err)
	require.NoError(t, w.Configure(ctx, "alice", nil))
	require.NoError(t, w.RegisterWith(ctx, client))

	tx, err := w.Mint(ctx, 25)
	require.NoError(t, err)
	coins, err := w.Settle(ctx, client, tx)
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, uint64(25), w.Balance())

	first, err := w.Burn(ctx, 10)
	require.NoError(t, err)
	require.True(t, w.AbandonPending())
	second, err := w.Burn(ctx, 20)
	require.NoError(t, err)
	_, err = w.Settle(ctx, client, second.Tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), w.Balance())

	// The validators' reason survives the HTTP hop.
	_, failed := client.SignTx(ctx, first.Tx)
	require.Len(t, failed, 4)
	for _, f := range failed {
		assert.True(t, errors.Is(f.Err, utt.ErrNullifierReused), "validator %d: %v", f.Validator, f.Err)
	}
}

func TestRegistrationConflictOverHTTP(t *testing.T) {
	p, signers := newSigners(t)
	client := p2p.NewClient("bob", p2p.PeersFromURLs(startNetwork(t, signers)), 5*time.Second, zerolog.Nop())
	ctx := context.Background()

	for i, wantErr := range []bool{false, true} {
		store, err := wallet.NewFileStorage(t.TempDir())
		require.NoError(t, err)
		w, err := wallet.Open(ctx, p, store)
		require.NoError(t, err)
		require.NoError(t, w.Configure(ctx, "bob", nil))
		err = w.RegisterWith(ctx, client)
		if wantErr {
			assert.True(t, errors.Is(err, utt.ErrAlreadyRegistered), "attempt %d: %v", i, err)
		} else {
			require.NoError(t, err)
		}
	}
}

func TestUnreachableValidators(t *testing.T) {
	p, signers := newSigners(t)
	urls := startNetwork(t, signers[:1])
	// Nothing listens on the remaining addresses.
	for i := 0; i < 3; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		urls = append(urls, "http://"+ln.Addr().String())
		require.NoError(t, ln.Close())
	}
	client := p2p.NewClient("carol", p2p.PeersFromURLs(urls), 2*time.Second, zerolog.Nop())
	ctx := context.Background()

	store, err := wallet.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	w, err := wallet.Open(ctx, p, store)
	require.NoError(t, err)
	require.NoError(t, w.Configure(ctx, "carol", nil))
	err = w.RegisterWith(ctx, client)
	assert.True(t, errors.Is(err, utt.ErrIncompleteClaim), "%v", err)
	assert.False(t, w.IsRegistered())
}

func TestMessageErrors(t *testing.T) {
	_, signers := newSigners(t)
	app := p2p.NewNode("validator-1", signers[0]).App()

	code, reply := post(t, app, p2p.Message{Type: "gossip", Payload: []byte{1}})
	assert.Equal(t, fiber.StatusBadRequest, code)
	require.NotNil(t, reply.Error)
	assert.Equal(t, "invalid_argument", reply.Error.Code)
	assert.Equal(t, 1, reply.Validator)
	assert.True(t, errors.Is(reply.Error.Err(), utt.ErrInvalidArgument))

	code, reply = post(t, app, p2p.Message{Type: p2p.MsgSignTx, Payload: []byte("not cbor")})
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)
	require.NotNil(t, reply.Error)
	assert.Equal(t, "invalid_transaction", reply.Error.Code)

	code, reply = post(t, app, p2p.Message{Type: p2p.MsgSignRegistration, Payload: []byte{0xff}})
	assert.Equal(t, fiber.StatusUnprocessableEntity, code)
	require.NotNil(t, reply.Error)
	assert.Equal(t, "invalid_registration", reply.Error.Code)

	req := httptest.NewRequest(fiber.MethodPost, "/v1/messages", bytes.NewReader([]byte("{")))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRateLimit(t *testing.T) {
	_, signers := newSigners(t)
	app := p2p.NewNode("validator-1", signers[0], p2p.WithRateLimit(1, time.Hour)).App()

	code, _ := post(t, app, p2p.Message{Type: "gossip"})
	assert.Equal(t, fiber.StatusBadRequest, code)
	code, reply := post(t, app, p2p.Message{Type: "gossip"})
	assert.Equal(t, fiber.StatusTooManyRequests, code)
	require.NotNil(t, reply.Error)
	assert.Equal(t, "rate_limited", reply.Error.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	_, signers := newSigners(t)
	checker := health.NewChecker("test")
	checker.Register("nullifier_store", nil)
	m := metrics.NewCollector()
	m.RecordError("nullifier_reused")
	app := p2p.NewNode("validator-1", signers[0], p2p.WithHealth(checker), p2p.WithNodeMetrics(m)).App()

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var report health.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, health.Healthy, report.Status)
	assert.Equal(t, "test", report.Version)

	checker.Update("nullifier_store", health.Unhealthy, "connection refused")
	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/readyz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/livez", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	checker.Update("nullifier_store", health.Healthy, "")
	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/readyz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `utt_errors_total{code="nullifier_reused"} 1`)

	bare := p2p.NewNode("validator-2", signers[1]).App()
	resp, err = bare.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
