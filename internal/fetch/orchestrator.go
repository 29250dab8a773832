package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aqxion/leadcrawler/internal/cache"
	"github.com/aqxion/leadcrawler/internal/dedup"
	"github.com/aqxion/leadcrawler/internal/id"
	"github.com/aqxion/leadcrawler/internal/metrics"
	"github.com/aqxion/leadcrawler/internal/ratelimit"
)

// Artifact is the validated, deduplicated result of a fetch.
type Artifact struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Host        string    `json:"host"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	FetchedAt   time.Time `json:"fetched_at"`
	Relevance   int       `json:"relevance"`
}

// Config controls orchestrator retry behavior.
type Config struct {
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	UserAgent      string
}

// Orchestrator ties the rate limiter, cache, fetcher and dedup filter
// into the single Fetch entry point.
type Orchestrator struct {
	fetcher Fetcher
	limiter *ratelimit.Limiter
	store   cache.Cache
	filter  *dedup.Filter
	ids     *id.Generator
	retry   retryPolicy
	headers http.Header
	logger  *zap.Logger
}

// NewOrchestrator wires the orchestrator together.
func NewOrchestrator(
	fetcher Fetcher,
	limiter *ratelimit.Limiter,
	store cache.Cache,
	filter *dedup.Filter,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetcher: fetcher,
		limiter: limiter,
		store:   store,
		filter:  filter,
		ids:     id.New(),
		retry:   newRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax),
		headers: DefaultHeaders(cfg.UserAgent),
		logger:  logger,
	}
}

// Fetch retrieves, validates and deduplicates a single URL. A cache hit
// bypasses rate limiting and network I/O entirely.
func (o *Orchestrator) Fetch(ctx context.Context, rawURL string) (Artifact, error) {
	return o.FetchKeyword(ctx, rawURL, "")
}

// FetchKeyword is Fetch with an optional driving keyword used to reject
// unrelated pages early.
func (o *Orchestrator) FetchKeyword(ctx context.Context, rawURL, keyword string) (Artifact, error) {
	host, err := hostOf(rawURL)
	if err != nil {
		return Artifact{}, &Error{URL: rawURL, Class: ratelimit.ClassNetwork, Err: err}
	}

	if cached, ok := o.cachedArtifact(ctx, rawURL, host); ok {
		return cached, nil
	}

	if ok, reason := o.filter.ShouldFetch(rawURL, "", ""); !ok {
		return Artifact{}, &RejectionError{URL: rawURL, Reason: reason}
	}

	if err := o.limiter.Acquire(ctx, host); err != nil {
		return Artifact{}, &Error{URL: rawURL, Host: host, Class: ratelimit.ClassForbidden, Err: err}
	}

	resp, err := o.fetchWithRetry(ctx, rawURL, host)
	if err != nil {
		return Artifact{}, err
	}

	o.limiter.ReportSuccess(host)
	metrics.ObserveFetch(host, "success", len(resp.Body), resp.Duration)

	artifact, err := o.validate(rawURL, host, string(resp.Body), keyword)
	if err != nil {
		return Artifact{}, err
	}

	// Only accepted content is cached; cache hits skip the filter.
	if err := o.store.Set(ctx, cache.NamespaceURLContent, rawURL, resp.Body, 0); err != nil {
		o.logger.Warn("content cache write failed", zap.String("url", rawURL), zap.Error(err))
	}
	return artifact, nil
}

// cachedArtifact returns an artifact built from cached content. Cached
// pages were validated when stored, so the filter is not rerun.
func (o *Orchestrator) cachedArtifact(ctx context.Context, rawURL, host string) (Artifact, bool) {
	body, ok, err := o.store.Get(ctx, cache.NamespaceURLContent, rawURL)
	if err != nil || !ok {
		return Artifact{}, false
	}
	content := string(body)
	artifact, err := o.buildArtifact(rawURL, host, content, extractTitle(content))
	if err != nil {
		return Artifact{}, false
	}
	metrics.ObserveFetch(host, "cache_hit", 0, 0)
	return artifact, true
}

func (o *Orchestrator) fetchWithRetry(ctx context.Context, rawURL, host string) (Response, error) {
	var lastErr error
	for attempt := 0; attempt < o.retry.maxAttempts; attempt++ {
		resp, err := o.fetcher.Fetch(ctx, Request{URL: rawURL, Headers: o.headers})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		class, retryable, fatal := classify(err)
		o.limiter.ReportFailure(host, class)
		metrics.ObserveFetch(host, "failure", 0, 0)

		statusCode := 0
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			statusCode = statusErr.StatusCode
		}
		wrapped := &Error{
			URL:        rawURL,
			Host:       host,
			StatusCode: statusCode,
			Class:      class,
			Retryable:  retryable,
			Err:        err,
		}
		if fatal || !retryable {
			return Response{}, wrapped
		}

		o.logger.Debug("retryable fetch failure",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.String("class", class.String()),
			zap.Error(err),
		)
		if attempt+1 < o.retry.maxAttempts {
			if err := sleepCtx(ctx, o.retry.backoff(attempt)); err != nil {
				return Response{}, wrapped
			}
		}
	}

	class, retryable, _ := classify(lastErr)
	return Response{}, &Error{
		URL:       rawURL,
		Host:      host,
		Class:     class,
		Retryable: retryable,
		Err:       fmt.Errorf("retries exhausted: %w", lastErr),
	}
}

func (o *Orchestrator) validate(rawURL, host, content, keyword string) (Artifact, error) {
	title := extractTitle(content)

	if keyword != "" {
		if ok, reason := o.filter.ShouldFetch(rawURL, title, keyword); !ok {
			return Artifact{}, &RejectionError{URL: rawURL, Reason: reason}
		}
	}
	if ok, reason := o.filter.Accept(title, content, rawURL); !ok {
		return Artifact{}, &RejectionError{URL: rawURL, Reason: reason}
	}
	return o.buildArtifact(rawURL, host, content, title)
}

func (o *Orchestrator) buildArtifact(rawURL, host, content, title string) (Artifact, error) {
	artifactID, err := o.ids.NewID()
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact id: %w", err)
	}
	return Artifact{
		ID:          artifactID,
		URL:         rawURL,
		Host:        host,
		Title:       title,
		Content:     content,
		ContentHash: o.filter.ContentHash(content),
		FetchedAt:   time.Now().UTC(),
		Relevance:   ScoreRelevance("", title, content),
	}, nil
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func extractTitle(content string) string {
	m := titleRe.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return host, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
