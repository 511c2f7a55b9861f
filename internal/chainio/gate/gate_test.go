package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karbon/internal/anchor/chain"
	"karbon/internal/platform/config"
)

func TestMemoryGateFixedWindow(t *testing.T) {
	g := NewMemory(config.GateConfig{RequestsPerWindow: 3, Window: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Allow(ctx), "submission %d should be admitted", i+1)
	}

	err := g.Allow(ctx)
	require.Error(t, err)

	// A full window must surface as retryable so the caller backs off
	// instead of failing the anchor outright.
	var re *chain.RetryableError
	assert.True(t, errors.As(err, &re))
	assert.False(t, re.Unavailable)
}

func TestMemoryGateWindowReset(t *testing.T) {
	g := NewMemory(config.GateConfig{RequestsPerWindow: 1, Window: 10 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, g.Allow(ctx))
	require.Error(t, g.Allow(ctx))

	time.Sleep(15 * time.Millisecond)
	assert.NoError(t, g.Allow(ctx), "a fresh window admits again")
}
