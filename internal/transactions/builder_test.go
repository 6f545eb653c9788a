package transactions_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privwallet/internal/claim"
	"privwallet/internal/signer"
	"privwallet/internal/transactions"
	"privwallet/internal/transactions/register"
	"privwallet/internal/utt"
)

type party struct {
	client *transactions.Client
	owner  *claim.Owner
	keys   *utt.DHKeyPair
}

type env struct {
	p       *utt.GlobalParams
	cluster *signer.Cluster
}

func newEnv(t *testing.T, useBudget bool) *env {
	t.Helper()
	p, keys, err := utt.Setup(utt.SetupConfig{N: 4, F: 1, RangeBits: 8, UseBudget: useBudget})
	require.NoError(t, err)
	c, err := signer.NewCluster(p, keys)
	require.NoError(t, err)
	return &env{p: p, cluster: c}
}

func (e *env) enroll(t *testing.T, identity string) *party {
	t.Helper()
	kp, err := utt.GenerateDHKeyPair()
	require.NoError(t, err)
	req, pending, err := register.Begin(e.p, identity, kp.PublicKey())
	require.NoError(t, err)
	resps, failed := e.cluster.SignRegistration(context.Background(), req)
	require.Empty(t, failed)
	var shares []utt.BlindShare
	var s2 utt.Scalar
	for _, r := range resps {
		shares = append(shares, r.Share)
		s2 = r.S2
	}
	cred, err := register.Finalize(e.p, pending, shares, s2)
	require.NoError(t, err)
	sealer, err := utt.NewSealer(kp.SecretKey())
	require.NoError(t, err)
	return &party{
		client: &transactions.Client{Identity: identity, PID: cred.PID, PRFKey: cred.PRFKey, Credential: cred.Sig, Sealer: sealer},
		owner:  &claim.Owner{PID: cred.PID, PRFKey: cred.PRFKey, Sealer: sealer, Decryptor: kp},
		keys:   kp,
	}
}

func (e *env) settle(t *testing.T, who *party, tx *transactions.Transaction) []*utt.Coin {
	t.Helper()
	shares, failed := e.cluster.SignTx(context.Background(), tx)
	require.Empty(t, failed)
	coins, err := claim.Claim(e.p, who.owner, tx, shares)
	require.NoError(t, err)
	return coins
}

func (e *env) mint(t *testing.T, who *party, amount uint64) *utt.Coin {
	t.Helper()
	tx, err := transactions.Mint(e.p, who.client, amount)
	require.NoError(t, err)
	coins := e.settle(t, who, tx)
	require.Len(t, coins, 1)
	return coins[0]
}

func (e *env) budget(t *testing.T, who *party, amount uint64, exp time.Time) *utt.Coin {
	t.Helper()
	tx, err := transactions.IssueBudget(e.p, transactions.BudgetOrder{
		Identity: who.client.Identity, PublicKey: who.keys.PublicKey(), Amount: amount, Expiration: exp,
	}, utt.ECIES{})
	require.NoError(t, err)
	coins := e.settle(t, who, tx)
	require.Len(t, coins, 1)
	require.Equal(t, utt.BudgetCoin, coins[0].Type)
	return coins[0]
}

type failingEncryptor struct{}

func (failingEncryptor) EncryptFor([]byte, []byte) ([]byte, error) {
	return nil, errors.New("key server unavailable")
}

func TestTransferOutputCounts(t *testing.T) {
	e := newEnv(t, false)
	alice := e.enroll(t, "alice")
	bob := e.enroll(t, "bob")
	coin := e.mint(t, alice, 100)

	exact := transactions.NewBuilder(e.p, alice.client, time.Now())
	require.NoError(t, exact.AddInput(coin))
	require.NoError(t, exact.AddRecipient(transactions.Recipient{ID: "bob", PublicKey: bob.keys.PublicKey(), Amount: 100}))
	tx, err := exact.Transfer(utt.ECIES{})
	require.NoError(t, err)
	assert.Equal(t, 1, tx.NumOutputs(), "no change output")
	assert.False(t, tx.HasBudgetCoin())

	change := transactions.NewBuilder(e.p, alice.client, time.Now())
	require.NoError(t, change.AddInput(coin))
	require.NoError(t, change.AddRecipient(transactions.Recipient{ID: "bob", PublicKey: bob.keys.PublicKey(), Amount: 60}))
	tx, err = change.Transfer(utt.ECIES{})
	require.NoError(t, err)
	assert.Equal(t, 2, tx.NumOutputs())
	require.NoError(t, transactions.Verify(context.Background(), e.p, tx, time.Now()))
}

func TestBuilderStateMachine(t *testing.T) {
	e := newEnv(t, false)
	alice := e.enroll(t, "alice")
	coin := e.mint(t, alice, 10)

	b := transactions.NewBuilder(e.p, alice.client, time.Now())
	require.NoError(t, b.AddInput(coin))
	require.NoError(t, b.Draft())
	assert.True(t, errors.Is(b.AddInput(coin), utt.ErrBuilderState))
	assert.True(t, errors.Is(b.Draft(), utt.ErrBuilderState))

	_, err := b.Burn(4)
	require.NoError(t, err)
	_, err = b.Burn(4)
	assert.True(t, errors.Is(err, utt.ErrBuilderState))
}

func TestBuilderRejectsBadInputs(t *testing.T) {
	e := newEnv(t, false)
	alice := e.enroll(t, "alice")
	bob := e.enroll(t, "bob")
	a1 := e.mint(t, alice, 10)
	a2 := e.mint(t, alice, 10)
	a3 := e.mint(t, alice, 10)
	b1 := e.mint(t, bob, 10)

	cases := map[string][]*utt.Coin{
		"empty":     nil,
		"foreign":   {b1},
		"too many":  {a1, a2, a3},
		"duplicate": {a1, a1},
	}
	for name, inputs := range cases {
		t.Run(name, func(t *testing.T) {
			b := transactions.NewBuilder(e.p, alice.client, time.Now())
			for _, c := range inputs {
				require.NoError(t, b.AddInput(c))
			}
			assert.True(t, errors.Is(b.Draft(), utt.ErrInvalidCoinsInTransfer))
		})
	}

	unsigned := a1.Clone()
	unsigned.Sig = nil
	b := transactions.NewBuilder(e.p, alice.client, time.Now())
	require.NoError(t, b.AddInput(unsigned))
	assert.True(t, errors.Is(b.Draft(), utt.ErrInvalidCoinsInTransfer))
}

func TestBuilderRequiresRegistration(t *testing.T) {
	e := newEnv(t, false)
	alice := e.enroll(t, "alice")
	coin := e.mint(t, alice, 10)

	stranger := *alice.client
	stranger.Credential = nil
	b := transactions.NewBuilder(e.p, &stranger, time.Now())
	require.NoError(t, b.AddInput(coin))
	assert.True(t, errors.Is(b.Draft(), utt.ErrNotRegistered))

	_, err := transactions.Mint(e.p, &stranger, 5)
	assert.True(t, errors.Is(err, utt.ErrNotRegistered))
}

func TestTransferInsufficientBalance(t *testing.T) {
	e := newEnv(t, false)
	alice := e.enroll(t, "alice")
	coin := e.mint(t, alice, 10)

	b := transactions.NewBuilder(e.p, alice.client, time.Now())
	require.NoError(t, b.AddInput(coin))
	require.NoError(t, b.AddRecipient(transactions.Recipient{ID: "alice", Amount: 11}))
	_, err := b.Transfer(nil)
	assert.True(t, errors.Is(err, utt.ErrInsufficientBalance))
}

func TestTransferEncryptionFailure(t *testing.T) {
	e := newEnv(t, false)
	alice := e.enroll(t, "alice")
	coin := e.mint(t, alice, 10)

	b := transactions.NewBuilder(e.p, alice.client, time.Now())
	require.NoError(t, b.AddInput(coin))
	require.NoError(t, b.AddRecipient(transactions.Recipient{ID: "bob", Amount: 5}))
	tx, err := b.Transfer(failingEncryptor{})
	assert.Nil(t, tx)
	assert.True(t, errors.Is(err, utt.ErrEncryptionFailure))
	assert.Equal(t, utt.KindCollaborator, utt.KindOf(err))
}

func TestBudgetEnforcement(t *testing.T) {
	e := newEnv(t, true)
	alice := e.enroll(t, "alice")
	bob := e.enroll(t, "bob")
	coin := e.mint(t, alice, 100)
	budget := e.budget(t, alice, 50, time.Now().Add(time.Hour))

	toBob := transactions.Recipient{ID: "bob", PublicKey: bob.keys.PublicKey(), Amount: 30}

	noBudget := transactions.NewBuilder(e.p, alice.client, time.Now())
	require.NoError(t, noBudget.AddInput(coin))
	require.NoError(t, noBudget.AddRecipient(toBob))
	_, err := noBudget.Transfer(utt.ECIES{})
	assert.True(t, errors.Is(err, utt.ErrInvalidCoinsInTransfer))

	tooMuch := transactions.NewBuilder(e.p, alice.client, time.Now())
	require.NoError(t, tooMuch.AddInput(coin))
	require.NoError(t, tooMuch.SetBudget(budget))
	require.NoError(t, tooMuch.AddRecipient(transactions.Recipient{ID: "bob", PublicKey: bob.keys.PublicKey(), Amount: 60}))
	_, err = tooMuch.Transfer(utt.ECIES{})
	assert.True(t, errors.Is(err, utt.ErrInsufficientBudget))

	// Self transfers do not consume budget.
	self := transactions.NewBuilder(e.p, alice.client, time.Now())
	require.NoError(t, self.AddInput(coin))
	require.NoError(t, self.AddRecipient(transactions.Recipient{ID: "alice", Amount: 70}))
	tx, err := self.Transfer(nil)
	require.NoError(t, err)
	assert.False(t, tx.HasBudgetCoin())

	ok := transactions.NewBuilder(e.p, alice.client, time.Now())
	require.NoError(t, ok.AddInput(coin))
	require.NoError(t, ok.SetBudget(budget))
	require.NoError(t, ok.AddRecipient(toBob))
	tx, err = ok.Transfer(utt.ECIES{})
	require.NoError(t, err)
	require.True(t, tx.HasBudgetCoin())
	assert.Equal(t, 3, tx.NumOutputs(), "bob, change, budget")

	coins := e.settle(t, alice, tx)
	require.Len(t, coins, 2)
	var left *utt.Coin
	for _, c := range coins {
		if c.Type == utt.BudgetCoin {
			left = c
		}
	}
	require.NotNil(t, left)
	assert.Equal(t, uint64(20), left.Value)
	assert.Equal(t, budget.Expiration, left.Expiration)
}

func TestExpiredBudgetIsUnspendable(t *testing.T) {
	e := newEnv(t, true)
	alice := e.enroll(t, "alice")
	coin := e.mint(t, alice, 10)
	exp := time.Now().Add(time.Minute)
	budget := e.budget(t, alice, 10, exp)

	b := transactions.NewBuilder(e.p, alice.client, exp.Add(time.Hour))
	require.NoError(t, b.AddInput(coin))
	require.NoError(t, b.SetBudget(budget))
	assert.True(t, errors.Is(b.Draft(), utt.ErrInvalidCoinsInTransfer))
}

func TestBurn(t *testing.T) {
	e := newEnv(t, false)
	alice := e.enroll(t, "alice")
	coin := e.mint(t, alice, 25)

	b := transactions.NewBuilder(e.p, alice.client, time.Now())
	require.NoError(t, b.AddInput(coin))
	tx, err := b.Burn(10)
	require.NoError(t, err)
	require.Equal(t, 1, tx.NumOutputs())

	coins := e.settle(t, alice, tx)
	require.Len(t, coins, 1)
	assert.Equal(t, uint64(15), coins[0].Value)

	full := transactions.NewBuilder(e.p, alice.client, time.Now())
	require.NoError(t, full.AddInput(coins[0]))
	tx, err = full.Burn(15)
	require.NoError(t, err)
	assert.Equal(t, 0, tx.NumOutputs())
	require.NoError(t, transactions.Verify(context.Background(), e.p, tx, time.Now()))
}

func TestTransferRejectsOverflowingAmounts(t *testing.T) {
	p, keys, err := utt.Setup(utt.SetupConfig{N: 4, F: 1})
	require.NoError(t, err)
	c, err := signer.NewCluster(p, keys)
	require.NoError(t, err)
	e := &env{p: p, cluster: c}
	alice := e.enroll(t, "alice")
	bob := e.enroll(t, "bob")
	coin := e.mint(t, alice, 1)

	b := transactions.NewBuilder(p, alice.client, time.Now())
	require.NoError(t, b.AddInput(coin))
	require.NoError(t, b.AddRecipient(transactions.Recipient{ID: "bob", PublicKey: bob.keys.PublicKey(), Amount: math.MaxUint64}))
	require.NoError(t, b.AddRecipient(transactions.Recipient{ID: "bob", PublicKey: bob.keys.PublicKey(), Amount: 2}))
	tx, err := b.Transfer(utt.ECIES{})
	assert.True(t, errors.Is(err, utt.ErrInvalidTransaction), "%v", err)
	assert.Nil(t, tx)
}

func TestValuesMustFitTheRange(t *testing.T) {
	e := newEnv(t, false)
	alice := e.enroll(t, "alice")

	_, err := transactions.Mint(e.p, alice.client, 256)
	assert.True(t, errors.Is(err, utt.ErrInvalidTransaction))

	coin := e.mint(t, alice, 255)
	b := transactions.NewBuilder(e.p, alice.client, time.Now())
	require.NoError(t, b.AddInput(coin))
	err = b.AddRecipient(transactions.Recipient{ID: "alice", Amount: 300})
	assert.True(t, errors.Is(err, utt.ErrInvalidTransaction))
}
