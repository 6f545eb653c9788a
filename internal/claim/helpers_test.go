package claim_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"privwallet/internal/claim"
	"privwallet/internal/signer"
	"privwallet/internal/transactions"
	"privwallet/internal/transactions/register"
	"privwallet/internal/utt"
)

type user struct {
	client *transactions.Client
	owner  *claim.Owner
	keys   *utt.DHKeyPair
}

func network(t *testing.T, useBudget bool) (*utt.GlobalParams, *signer.Cluster) {
	t.Helper()
	p, keys, err := utt.Setup(utt.SetupConfig{N: 4, F: 1, RangeBits: 8, UseBudget: useBudget})
	require.NoError(t, err)
	c, err := signer.NewCluster(p, keys)
	require.NoError(t, err)
	return p, c
}

func enroll(t *testing.T, p *utt.GlobalParams, c *signer.Cluster, identity string) *user {
	t.Helper()
	kp, err := utt.GenerateDHKeyPair()
	require.NoError(t, err)
	req, pending, err := register.Begin(p, identity, kp.PublicKey())
	require.NoError(t, err)
	resps, failed := c.SignRegistration(context.Background(), req)
	require.Empty(t, failed)
	var shares []utt.BlindShare
	var s2 utt.Scalar
	for _, r := range resps {
		shares = append(shares, r.Share)
		s2 = r.S2
	}
	cred, err := register.Finalize(p, pending, shares, s2)
	require.NoError(t, err)
	sealer, err := utt.NewSealer(kp.SecretKey())
	require.NoError(t, err)
	return &user{
		client: &transactions.Client{Identity: identity, PID: cred.PID, PRFKey: cred.PRFKey, Credential: cred.Sig, Sealer: sealer},
		owner:  &claim.Owner{PID: cred.PID, PRFKey: cred.PRFKey, Sealer: sealer, Decryptor: kp},
		keys:   kp,
	}
}

func settle(t *testing.T, p *utt.GlobalParams, c *signer.Cluster, u *user, tx *transactions.Transaction) []*utt.Coin {
	t.Helper()
	shares, failed := c.SignTx(context.Background(), tx)
	require.Empty(t, failed)
	coins, err := claim.Claim(p, u.owner, tx, shares)
	require.NoError(t, err)
	return coins
}

func mint(t *testing.T, p *utt.GlobalParams, c *signer.Cluster, u *user, amount uint64) *utt.Coin {
	t.Helper()
	tx, err := transactions.Mint(p, u.client, amount)
	require.NoError(t, err)
	coins := settle(t, p, c, u, tx)
	require.Len(t, coins, 1)
	require.True(t, coins[0].IsSpendable(p, time.Now()))
	return coins[0]
}
