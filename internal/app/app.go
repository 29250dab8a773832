// Package app initializes and holds the long-lived engine components,
// acting as a dependency injection container.
package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aqxion/leadcrawler/internal/breaker"
	"github.com/aqxion/leadcrawler/internal/cache"
	"github.com/aqxion/leadcrawler/internal/config"
	"github.com/aqxion/leadcrawler/internal/dedup"
	"github.com/aqxion/leadcrawler/internal/fetch"
	"github.com/aqxion/leadcrawler/internal/logging"
	"github.com/aqxion/leadcrawler/internal/ratelimit"
	"github.com/aqxion/leadcrawler/internal/sink"
)

// Names of the guarded external dependencies. Each gets its own breaker
// instance so one outage cannot trip the other.
const (
	BreakerSearchAPI = "search-api"
	BreakerAIAPI     = "ai-api"
	BreakerPublish   = "publish"
)

// App holds all the shared, long-lived components for the engine. It is
// initialized once at startup and passed to the API server.
type App struct {
	Limiter  *ratelimit.Limiter
	Cache    cache.Cache
	Filter   *dedup.Filter
	Pool     *fetch.Pool
	Breakers map[string]*breaker.Breaker
	Sink     sink.Provider

	valkey *cache.Valkey
	logger *zap.Logger
}

// New builds the component graph from configuration. A missing or
// unreachable distributed cache degrades to local-only caching rather
// than failing startup.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	overrides := make(map[string]ratelimit.Override, len(cfg.Hosts))
	for host, o := range cfg.Hosts {
		overrides[host] = ratelimit.Override{RPS: o.RPS, Burst: o.Burst}
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:         cfg.RateLimit.DefaultRPS,
		DefaultBurst:       cfg.RateLimit.DefaultBurst,
		JitterMin:          time.Duration(cfg.RateLimit.JitterMinMs) * time.Millisecond,
		JitterMax:          time.Duration(cfg.RateLimit.JitterMaxMs) * time.Millisecond,
		ForbiddenThreshold: cfg.RateLimit.ForbiddenThreshold,
		Overrides:          overrides,
	})

	ttls := make(cache.TTLPolicy, len(cfg.Cache.NamespaceTTLSec))
	for ns, sec := range cfg.Cache.NamespaceTTLSec {
		ttls[ns] = time.Duration(sec) * time.Second
	}
	local := cache.NewLocal(cache.LocalConfig{
		MaxEntries:          cfg.Cache.LocalMaxEntries,
		CompressionMinBytes: cfg.Cache.CompressionMinBytes,
		TTLs:                ttls,
	})

	var distributed *cache.Valkey
	if cfg.Cache.ValkeyAddress != "" {
		var err error
		distributed, err = cache.NewValkey(cache.ValkeyConfig{
			Address:             cfg.Cache.ValkeyAddress,
			Username:            cfg.Cache.ValkeyUsername,
			Password:            cfg.Cache.ValkeyPassword,
			DB:                  cfg.Cache.ValkeyDB,
			CompressionMinBytes: cfg.Cache.CompressionMinBytes,
			TTLs:                ttls,
			OpTimeout:           time.Duration(cfg.Cache.OpTimeoutMs) * time.Millisecond,
		})
		if err != nil {
			logger.Warn("distributed cache unavailable, running local-only", zap.Error(err))
		}
	}
	tiered := cache.NewTiered(local, distributed, logging.Component(logger, "cache"))

	filter := dedup.New(dedup.Config{
		MinTitleLength:      cfg.Dedup.MinTitleLength,
		MinBodyLength:       cfg.Dedup.MinBodyLength,
		Retention:           time.Duration(cfg.Dedup.RetentionHours) * time.Hour,
		SimilarityWindow:    cfg.Dedup.SimilarityWindow,
		TitleSimilarity:     cfg.Dedup.TitleSimilarity,
		BodySimilarity:      cfg.Dedup.BodySimilarity,
		ContentPrefixLength: cfg.Dedup.ContentPrefixLength,
	}, logging.Component(logger, "dedup"))

	fetcher := fetch.NewColly(fetch.CollyConfig{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	})
	orch := fetch.NewOrchestrator(fetcher, limiter, tiered, filter, fetch.Config{
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		UserAgent:      cfg.Fetch.UserAgent,
	}, logging.Component(logger, "fetch"))
	pool := fetch.NewPool(orch, fetch.PoolConfig{
		Concurrency: cfg.Fetch.Concurrency,
		PerHostMax:  cfg.Fetch.PerHostMax,
	}, logging.Component(logger, "pool"))

	breakerCfg := func(name string) breaker.Config {
		return breaker.Config{
			Name:             name,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			RecoveryTimeout:  time.Duration(cfg.Breaker.RecoveryTimeoutSec) * time.Second,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			CallTimeout:      time.Duration(cfg.Breaker.CallTimeoutSec) * time.Second,
		}
	}
	breakers := map[string]*breaker.Breaker{
		BreakerSearchAPI: breaker.New(breakerCfg(BreakerSearchAPI), logger),
		BreakerAIAPI:     breaker.New(breakerCfg(BreakerAIAPI), logger),
		BreakerPublish:   breaker.New(breakerCfg(BreakerPublish), logger),
	}

	var artifacts sink.Provider = sink.NoOp{}
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		ps, err := sink.NewPubSub(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Warn("pubsub sink unavailable, artifacts not published", zap.Error(err))
		} else {
			artifacts = ps
		}
	}

	return &App{
		Limiter:  limiter,
		Cache:    tiered,
		Filter:   filter,
		Pool:     pool,
		Breakers: breakers,
		Sink:     artifacts,
		valkey:   distributed,
		logger:   logger,
	}, nil
}

// Close releases held connections.
func (a *App) Close() {
	if err := a.Sink.Close(); err != nil {
		a.logger.Warn("sink close failed", zap.Error(err))
	}
	if a.valkey != nil {
		a.valkey.Close()
	}
}
