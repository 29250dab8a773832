package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aqxion/leadcrawler/internal/config"
)

func TestNewBuildsComponentGraph(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Limiter)
	require.NotNil(t, a.Cache)
	require.NotNil(t, a.Filter)
	require.NotNil(t, a.Pool)
	require.NotNil(t, a.Sink)
	require.Contains(t, a.Breakers, BreakerSearchAPI)
	require.Contains(t, a.Breakers, BreakerAIAPI)
	require.Contains(t, a.Breakers, BreakerPublish)
}

func TestNewAppliesHostOverrides(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	// Defaults pin well-known hosts to stricter buckets.
	require.InDelta(t, 2, a.Limiter.Tokens("www.google.com"), 0.01)
	require.InDelta(t, float64(cfg.RateLimit.DefaultBurst), a.Limiter.Tokens("anything.example.com"), 0.01)
}
