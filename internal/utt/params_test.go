package utt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupValidates(t *testing.T) {
	cases := map[string]SetupConfig{
		"n is not 3f+1":       {N: 5, F: 1},
		"too many range bits": {N: 4, F: 1, RangeBits: 65},
		"negative f":          {N: -2, F: -1},
		"single input":        {N: 4, F: 1, MaxInputs: 1},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Setup(cfg)
			assert.Error(t, err)
		})
	}
}

func TestParamsFileRoundTrip(t *testing.T) {
	p, keys, err := Setup(SetupConfig{N: 4, F: 1, RangeBits: 16, UseBudget: true})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Threshold())
	require.Len(t, keys, 4)

	dir := t.TempDir()
	path := filepath.Join(dir, "params.cbor")
	require.NoError(t, SaveParamsFile(p, path))
	loaded, err := LoadParamsFile(path)
	require.NoError(t, err)
	assert.Equal(t, p.ID(), loaded.ID())
	assert.True(t, loaded.UseBudget)
	assert.Equal(t, "sigma", loaded.Range.Name())

	for _, k := range keys {
		kp := filepath.Join(dir, "validator.key")
		require.NoError(t, SaveValidatorKey(k, kp))
		got, err := LoadValidatorKey(loaded, kp)
		require.NoError(t, err)
		assert.Equal(t, k.Index, got.Index)
	}

	// A key from another setup is rejected.
	_, foreign, err := Setup(SetupConfig{N: 4, F: 1, RangeBits: 16})
	require.NoError(t, err)
	kp := filepath.Join(dir, "foreign.key")
	require.NoError(t, SaveValidatorKey(foreign[0], kp))
	_, err = LoadValidatorKey(loaded, kp)
	assert.Error(t, err)

	_, err = LoadParamsFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
