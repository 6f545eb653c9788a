package transactions_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privwallet/internal/transactions"
	"privwallet/internal/utt"
)

func transfer(t *testing.T, e *env, from, to *party, coin *utt.Coin, amount uint64) *transactions.Transaction {
	t.Helper()
	b := transactions.NewBuilder(e.p, from.client, time.Now())
	require.NoError(t, b.AddInput(coin))
	require.NoError(t, b.AddRecipient(transactions.Recipient{ID: to.client.Identity, PublicKey: to.keys.PublicKey(), Amount: amount}))
	tx, err := b.Transfer(utt.ECIES{})
	require.NoError(t, err)
	return tx
}

func TestVerifyAfterWireRoundTrip(t *testing.T) {
	e := newEnv(t, false)
	alice := e.enroll(t, "alice")
	bob := e.enroll(t, "bob")
	tx := transfer(t, e, alice, bob, e.mint(t, alice, 40), 15)

	data, err := tx.Marshal()
	require.NoError(t, err)
	decoded, err := transactions.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, tx.ID(), decoded.ID())
	require.NoError(t, transactions.Verify(context.Background(), e.p, decoded, time.Now()))

	_, err = transactions.Unmarshal([]byte{0x01, 0x02})
	assert.True(t, errors.Is(err, utt.ErrInvalidTransaction))
}

func TestVerifyDetectsTampering(t *testing.T) {
	e := newEnv(t, false)
	alice := e.enroll(t, "alice")
	bob := e.enroll(t, "bob")
	coin := e.mint(t, alice, 40)

	tamper := map[string]func(tx *transactions.Transaction){
		"swap output commitments": func(tx *transactions.Transaction) {
			tx.Outputs[0].ValueCommitment, tx.Outputs[1].ValueCommitment = tx.Outputs[1].ValueCommitment, tx.Outputs[0].ValueCommitment
		},
		"drop range proof": func(tx *transactions.Transaction) {
			tx.Outputs[1].Range = nil
		},
		"flip self flag": func(tx *transactions.Transaction) {
			tx.Outputs[0].Self = !tx.Outputs[0].Self
		},
		"rename nullifier": func(tx *transactions.Transaction) {
			tx.Nullifiers[0] = "00"
		},
		"reuse input commitment": func(tx *transactions.Transaction) {
			in := tx.Payload.(*transactions.TransferPayload).Inputs[0]
			in.ValueCommitment = *tx.Outputs[0].ValueCommitment
		},
		"forge registration": func(tx *transactions.Transaction) {
			p := tx.Payload.(*transactions.TransferPayload)
			p.Registration.S = p.Registration.H
		},
		"replace opening": func(tx *transactions.Transaction) {
			tx.Outputs[0].Opening = []byte("x")
		},
	}
	for name, fn := range tamper {
		t.Run(name, func(t *testing.T) {
			tx := transfer(t, e, alice, bob, coin, 15)
			require.NoError(t, transactions.Verify(context.Background(), e.p, tx, time.Now()))
			fn(tx)
			err := transactions.Verify(context.Background(), e.p, tx, time.Now())
			require.Error(t, err)
			assert.Equal(t, utt.KindValidation, utt.KindOf(err), err.Error())
		})
	}
}

func TestVerifyMintReplayTag(t *testing.T) {
	e := newEnv(t, false)
	alice := e.enroll(t, "alice")
	tx, err := transactions.Mint(e.p, alice.client, 9)
	require.NoError(t, err)
	require.NoError(t, transactions.Verify(context.Background(), e.p, tx, time.Now()))

	tx.Nullifiers[0] = "mint:not-a-uuid"
	assert.True(t, errors.Is(transactions.Verify(context.Background(), e.p, tx, time.Now()), utt.ErrInvalidTransaction))
}

func TestVerifyRejectsExpiredBudgetIssue(t *testing.T) {
	e := newEnv(t, true)
	alice := e.enroll(t, "alice")
	exp := time.Now().Add(time.Minute)
	tx, err := transactions.IssueBudget(e.p, transactions.BudgetOrder{
		Identity: "alice", PublicKey: alice.keys.PublicKey(), Amount: 5, Expiration: exp,
	}, utt.ECIES{})
	require.NoError(t, err)
	require.NoError(t, transactions.Verify(context.Background(), e.p, tx, time.Now()))
	assert.Error(t, transactions.Verify(context.Background(), e.p, tx, exp.Add(time.Hour)))

	exp2, ok := tx.BudgetExpiration()
	assert.True(t, ok)
	assert.Equal(t, uint64(exp.Unix()), exp2)
}

func TestParseType(t *testing.T) {
	for _, typ := range []transactions.Type{transactions.TypeMint, transactions.TypeBurn, transactions.TypeTransfer, transactions.TypeBudget} {
		got, err := transactions.ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := transactions.ParseType("swap")
	assert.Error(t, err)
}
