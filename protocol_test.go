package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkthrough(t *testing.T) {
	r, err := run(context.Background(), t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	// 100 minted, 30 paid to bob, 20 burned.
	assert.Equal(t, uint64(50), r.Alice.Balance)
	assert.Equal(t, uint64(20), r.Alice.Budget)
	assert.True(t, r.Alice.Registered)
	assert.False(t, r.Alice.Pending)

	assert.Equal(t, uint64(30), r.Bob.Balance)
	assert.Equal(t, uint64(0), r.Bob.Budget)
	assert.Len(t, r.Bob.Coins, 1)
}
