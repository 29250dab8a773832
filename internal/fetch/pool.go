package fetch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aqxion/leadcrawler/internal/metrics"
)

// PoolConfig bounds fetch concurrency.
type PoolConfig struct {
	Concurrency int
	PerHostMax  int
}

// Pool bounds how many fetches run at once, globally and per host, so
// one slow host cannot starve the rest of the batch.
type Pool struct {
	orch   *Orchestrator
	global chan struct{}

	mu         sync.Mutex
	perHost    map[string]chan struct{}
	perHostMax int

	logger *zap.Logger
}

// Result pairs one URL with its fetch outcome.
type Result struct {
	URL      string
	Artifact Artifact
	Err      error
}

// NewPool creates a Pool around the orchestrator.
func NewPool(orch *Orchestrator, cfg PoolConfig, logger *zap.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.PerHostMax <= 0 || cfg.PerHostMax > cfg.Concurrency {
		cfg.PerHostMax = (cfg.Concurrency + 1) / 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		orch:       orch,
		global:     make(chan struct{}, cfg.Concurrency),
		perHost:    make(map[string]chan struct{}),
		perHostMax: cfg.PerHostMax,
		logger:     logger,
	}
}

// Fetch runs one orchestrated fetch under the pool's limits.
func (p *Pool) Fetch(ctx context.Context, rawURL string) (Artifact, error) {
	return p.FetchKeyword(ctx, rawURL, "")
}

// FetchKeyword runs one orchestrated fetch with a driving keyword.
func (p *Pool) FetchKeyword(ctx context.Context, rawURL, keyword string) (Artifact, error) {
	host, err := hostOf(rawURL)
	if err != nil {
		return Artifact{}, fmt.Errorf("pool fetch: %w", err)
	}

	release, err := p.acquire(ctx, host)
	if err != nil {
		return Artifact{}, err
	}
	defer release()

	metrics.IncActiveFetches()
	defer metrics.DecActiveFetches()
	return p.orch.FetchKeyword(ctx, rawURL, keyword)
}

// FetchBatch fetches every URL concurrently under the pool's limits.
// A single URL failure never aborts the batch; each result carries its
// own error. Results preserve input order.
func (p *Pool) FetchBatch(ctx context.Context, urls []string, keyword string) []Result {
	results := make([]Result, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			artifact, err := p.FetchKeyword(ctx, u, keyword)
			results[i] = Result{URL: u, Artifact: artifact, Err: err}
			if err != nil {
				p.logger.Info("batch fetch failed", zap.String("url", u), zap.Error(err))
			}
		}(i, u)
	}
	wg.Wait()
	return results
}

// acquire takes the global slot first, then the host slot. Both waits
// honor the context so shutdown drains promptly.
func (p *Pool) acquire(ctx context.Context, host string) (func(), error) {
	select {
	case p.global <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("pool acquire: %w", ctx.Err())
	}

	hostSlots := p.hostSlots(host)
	select {
	case hostSlots <- struct{}{}:
	case <-ctx.Done():
		<-p.global
		return nil, fmt.Errorf("pool acquire host: %w", ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-hostSlots
			<-p.global
		})
	}, nil
}

func (p *Pool) hostSlots(host string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	slots, ok := p.perHost[host]
	if !ok {
		slots = make(chan struct{}, p.perHostMax)
		p.perHost[host] = slots
	}
	return slots
}
