package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privwallet/internal/utt"
)

func TestDefaultsAreValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 30*time.Second, c.Timeout)
	assert.Equal(t, "sigma", c.Range.Backend)
	assert.Equal(t, 600, c.RateLimit.Max)
	assert.Equal(t, time.Minute, c.RateLimit.Window)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walletd.yaml")
	data := []byte(`
listen: 0.0.0.0:9000
validators:
  - http://v1:8080
  - http://v2:8080
storage:
  backend: redis
  redis_addr: localhost:6379
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("UTT_LOG_LEVEL", "warn")

	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, "0.0.0.0:9000", c.Listen)
	assert.Equal(t, []string{"http://v1:8080", "http://v2:8080"}, c.Validators)
	assert.Equal(t, "redis", c.Storage.Backend)
	assert.Equal(t, "warn", c.Log.Level)
}

func TestValidateRejectsUnknownBackends(t *testing.T) {
	c := Default()
	c.Nullifiers.Backend = "etcd"
	assert.Error(t, c.Validate())

	c = Default()
	c.Storage.Backend = "redis"
	assert.Error(t, c.Validate())

	c = Default()
	c.Range.Backend = "bulletproofs"
	assert.Error(t, c.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadParams(t *testing.T) {
	p, _, err := utt.Setup(utt.SetupConfig{N: 4, F: 1, RangeBits: 8})
	require.NoError(t, err)
	c := Default()
	c.ParamsPath = filepath.Join(t.TempDir(), "params.cbor")
	require.NoError(t, utt.SaveParamsFile(p, c.ParamsPath))

	loaded, err := c.LoadParams()
	require.NoError(t, err)
	assert.Equal(t, p.ID(), loaded.ID())
	assert.Equal(t, "sigma", loaded.Range.Name())
}
