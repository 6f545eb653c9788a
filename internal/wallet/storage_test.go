package wallet

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStorage(t *testing.T, s Storage) {
	ctx := context.Background()
	data, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, s.Save(ctx, []byte("v1")))
	require.NoError(t, s.Save(ctx, []byte("v2")))
	data, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	require.NoError(t, s.SetAppData(ctx, map[string]string{"theme": "dark", "lang": "en"}))
	require.NoError(t, s.SetAppData(ctx, map[string]string{"lang": "fr"}))
	got, err := s.GetAppData(ctx, []string{"lang", "theme", "absent"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lang": "fr", "theme": "dark"}, got)
}

func TestFileStorage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wallet")
	s, err := NewFileStorage(dir)
	require.NoError(t, err)
	exerciseStorage(t, s)

	_, err = os.Stat(filepath.Join(dir, stateFile+".tmp"))
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")
}

func TestRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	exerciseStorage(t, NewRedisStorage(client, "alice"))

	// Wallets are namespaced by name.
	other, err := NewRedisStorage(client, "bob").Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestStateCloneIsDeep(t *testing.T) {
	s := newState("alice", []byte{1, 2, 3})
	s.Spent["n1"] = true
	c, err := s.clone()
	require.NoError(t, err)
	c.Spent["n2"] = true
	c.SecretKey[0] = 9
	assert.False(t, s.Spent["n2"])
	assert.Equal(t, byte(1), s.SecretKey[0])
	assert.Equal(t, "alice", c.Identity)
}
