// Package gate rate-limits outbound chain submissions with a fixed
// requests-per-window counter. The custodial wallet holds one pending input
// set at a time, so throttling submissions keeps the wallet from racing
// itself without introducing wallet-level locks.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"karbon/internal/anchor/chain"
	"karbon/internal/platform/config"
)

// Gate admits or rejects an outbound submission.
type Gate interface {
	// Allow returns nil when the submission may proceed. A full window
	// returns a retryable error so the retry handler backs off and tries
	// again inside the same discipline as network failures.
	Allow(ctx context.Context) error
}

// Memory is the process-local fixed-window gate.
type Memory struct {
	limit  int
	window time.Duration

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewMemory creates an in-memory gate.
func NewMemory(cfg config.GateConfig) *Memory {
	return &Memory{limit: cfg.RequestsPerWindow, window: cfg.Window}
}

func (g *Memory) Allow(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	if now.Sub(g.windowStart) >= g.window {
		g.windowStart = now
		g.count = 0
	}
	if g.count >= g.limit {
		return chain.Retryable(fmt.Errorf("rate limit: submission window full (%d per %s)", g.limit, g.window))
	}
	g.count++
	return nil
}

// Redis is the distributed fixed-window gate shared across replicas.
// On Redis failure it falls back to the in-memory gate rather than blocking
// submissions on a limiter outage.
type Redis struct {
	client   *redis.Client
	limit    int
	window   time.Duration
	fallback *Memory
	logger   *slog.Logger
}

// NewRedis creates a Redis-backed gate with an in-memory fallback.
func NewRedis(client *redis.Client, cfg config.GateConfig, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client:   client,
		limit:    cfg.RequestsPerWindow,
		window:   cfg.Window,
		fallback: NewMemory(cfg),
		logger:   logger,
	}
}

func (g *Redis) Allow(ctx context.Context) error {
	windowStart := time.Now().Truncate(g.window).Unix()
	key := "karbon:gate:submissions:" + strconv.FormatInt(windowStart, 10)

	pipe := g.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, g.window)
	if _, err := pipe.Exec(ctx); err != nil {
		g.logger.Warn("submission gate redis unavailable, using in-memory fallback", "error", err)
		return g.fallback.Allow(ctx)
	}
	if int(incr.Val()) > g.limit {
		return chain.Retryable(fmt.Errorf("rate limit: submission window full (%d per %s)", g.limit, g.window))
	}
	return nil
}
