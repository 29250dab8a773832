package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aqxion/leadcrawler/internal/breaker"
	"github.com/aqxion/leadcrawler/internal/cache"
	"github.com/aqxion/leadcrawler/internal/dedup"
	"github.com/aqxion/leadcrawler/internal/fetch"
	"github.com/aqxion/leadcrawler/internal/ratelimit"
	"github.com/aqxion/leadcrawler/internal/sink"
)

type fetcherFunc func(ctx context.Context, req fetch.Request) (fetch.Response, error)

func (f fetcherFunc) Fetch(ctx context.Context, req fetch.Request) (fetch.Response, error) {
	return f(ctx, req)
}

func leadPage(title, body string) []byte {
	return []byte(fmt.Sprintf("<html><head><title>%s</title></head><body><p>%s</p></body></html>", title, body))
}

func goodPage(n int) []byte {
	titles := []string{
		"Looking for an emergency plumber in Madrid",
		"Need an electrician for warehouse lighting upgrade",
		"Roof repair quotes wanted after storm damage",
	}
	bodies := []string{
		"My kitchen sink has been leaking since yesterday and I need someone reliable to fix it this week.",
		"We are replacing all the fixtures in a warehouse north of the city and want quotes from licensed pros.",
		"Several tiles came loose during last week's storm and water is getting into the attic insulation.",
	}
	return leadPage(titles[n%len(titles)], bodies[n%len(bodies)])
}

func newTestServer(t *testing.T, f fetch.Fetcher) (*Server, *sink.Memory, *ratelimit.Limiter) {
	t.Helper()
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   1000,
		DefaultBurst: 1000,
		JitterMax:    time.Millisecond,
	})
	store := cache.NewLocal(cache.LocalConfig{MaxEntries: 100})
	filter := dedup.New(dedup.Config{}, zap.NewNop())
	orch := fetch.NewOrchestrator(f, limiter, store, filter, fetch.Config{
		MaxRetries:     1,
		BackoffInitial: time.Millisecond,
	}, zap.NewNop())
	pool := fetch.NewPool(orch, fetch.PoolConfig{Concurrency: 4, PerHostMax: 2}, nil)

	breakers := map[string]*breaker.Breaker{
		"search-api": breaker.New(breaker.Config{Name: "search-api"}, zap.NewNop()),
	}
	memory := sink.NewMemory()
	return NewServer(pool, limiter, breakers, memory, zap.NewNop()), memory, limiter
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t, fetcherFunc(func(context.Context, fetch.Request) (fetch.Response, error) {
		return fetch.Response{}, nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestFetchEndpoint(t *testing.T) {
	t.Parallel()
	s, memory, _ := newTestServer(t, fetcherFunc(func(context.Context, fetch.Request) (fetch.Response, error) {
		return fetch.Response{StatusCode: 200, Body: goodPage(0)}, nil
	}))

	rec := postJSON(t, s.Handler(), "/v1/fetch", map[string]string{"url": "https://example.com/post/1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var artifact fetch.Artifact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifact))
	require.Equal(t, "https://example.com/post/1", artifact.URL)
	require.NotEmpty(t, artifact.ID)
	require.NotEmpty(t, artifact.Title)

	published := memory.Artifacts()
	require.Len(t, published, 1)
	require.Equal(t, artifact.ID, published[0].ID)
}

func TestFetchEndpointDeliversThroughPublishBreaker(t *testing.T) {
	t.Parallel()
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: 1000, DefaultBurst: 1000, JitterMax: time.Millisecond})
	store := cache.NewLocal(cache.LocalConfig{MaxEntries: 100})
	filter := dedup.New(dedup.Config{}, zap.NewNop())
	orch := fetch.NewOrchestrator(fetcherFunc(func(context.Context, fetch.Request) (fetch.Response, error) {
		return fetch.Response{StatusCode: 200, Body: goodPage(0)}, nil
	}), limiter, store, filter, fetch.Config{MaxRetries: 1}, zap.NewNop())
	pool := fetch.NewPool(orch, fetch.PoolConfig{Concurrency: 2, PerHostMax: 2}, nil)

	open := breaker.New(breaker.Config{
		Name:             "publish",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	}, zap.NewNop())
	require.Error(t, open.Do(context.Background(), func(context.Context) error {
		return context.DeadlineExceeded
	}))
	require.Equal(t, breaker.StateOpen, open.State())

	memory := sink.NewMemory()
	s := NewServer(pool, limiter, map[string]*breaker.Breaker{"publish": open}, memory, zap.NewNop())

	rec := postJSON(t, s.Handler(), "/v1/fetch", map[string]string{"url": "https://example.com/post/1"})
	require.Equal(t, http.StatusOK, rec.Code, "an open publish breaker must not fail the fetch")
	require.Empty(t, memory.Artifacts(), "delivery is skipped while the breaker is open")
}

func TestFetchEndpointMissingURL(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t, fetcherFunc(func(context.Context, fetch.Request) (fetch.Response, error) {
		return fetch.Response{}, nil
	}))

	rec := postJSON(t, s.Handler(), "/v1/fetch", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFetchEndpointRejection(t *testing.T) {
	t.Parallel()
	s, memory, _ := newTestServer(t, fetcherFunc(func(context.Context, fetch.Request) (fetch.Response, error) {
		return fetch.Response{StatusCode: 200, Body: leadPage("Hi", "tiny")}, nil
	}))

	rec := postJSON(t, s.Handler(), "/v1/fetch", map[string]string{"url": "https://example.com/post/1"})
	require.Equal(t, http.StatusOK, rec.Code, "a filtered artifact is not a server error")

	var out struct {
		Accepted bool   `json:"accepted"`
		Reason   string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.False(t, out.Accepted)
	require.NotEmpty(t, out.Reason)
	require.Empty(t, memory.Artifacts(), "rejected artifacts are not published")
}

func TestFetchEndpointUpstreamFailure(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t, fetcherFunc(func(context.Context, fetch.Request) (fetch.Response, error) {
		return fetch.Response{}, &fetch.StatusError{StatusCode: 502}
	}))

	rec := postJSON(t, s.Handler(), "/v1/fetch", map[string]string{"url": "https://down.example.com/post/1"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestFetchEndpointBlockedHost(t *testing.T) {
	t.Parallel()
	s, _, limiter := newTestServer(t, fetcherFunc(func(context.Context, fetch.Request) (fetch.Response, error) {
		return fetch.Response{StatusCode: 200, Body: goodPage(0)}, nil
	}))

	for i := 0; i < 5; i++ {
		limiter.ReportFailure("walled.example.com", ratelimit.ClassForbidden)
	}

	rec := postJSON(t, s.Handler(), "/v1/fetch", map[string]string{"url": "https://walled.example.com/post/1"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestFetchBatchEndpoint(t *testing.T) {
	t.Parallel()
	s, memory, _ := newTestServer(t, fetcherFunc(func(_ context.Context, req fetch.Request) (fetch.Response, error) {
		if req.URL == "https://bad.example.com/post/1" {
			return fetch.Response{}, &fetch.StatusError{StatusCode: 500}
		}
		n := 0
		fmt.Sscanf(req.URL[len(req.URL)-1:], "%d", &n)
		return fetch.Response{StatusCode: 200, Body: goodPage(n)}, nil
	}))

	rec := postJSON(t, s.Handler(), "/v1/fetch/batch", map[string]any{
		"urls": []string{
			"https://a.example.com/post/0",
			"https://bad.example.com/post/1",
			"https://c.example.com/post/2",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Accepted []fetch.Artifact `json:"accepted"`
		Failed   []struct {
			URL   string `json:"url"`
			Error string `json:"error"`
		} `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Accepted, 2)
	require.Len(t, out.Failed, 1)
	require.Equal(t, "https://bad.example.com/post/1", out.Failed[0].URL)
	require.Len(t, memory.Artifacts(), 2)
}

func TestFetchBatchEndpointMissingURLs(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t, fetcherFunc(func(context.Context, fetch.Request) (fetch.Response, error) {
		return fetch.Response{}, nil
	}))

	rec := postJSON(t, s.Handler(), "/v1/fetch/batch", map[string]any{"urls": []string{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	s, _, limiter := newTestServer(t, fetcherFunc(func(context.Context, fetch.Request) (fetch.Response, error) {
		return fetch.Response{StatusCode: 200, Body: goodPage(0)}, nil
	}))

	limiter.ReportFailure("busy.example.com", ratelimit.ClassRateLimited)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Hosts    []ratelimit.HostState      `json:"hosts"`
		Breakers map[string]breaker.Metrics `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Contains(t, out.Breakers, "search-api")
	require.Equal(t, "closed", out.Breakers["search-api"].State)

	var found bool
	for _, hs := range out.Hosts {
		if hs.Host == "busy.example.com" {
			found = true
			require.Equal(t, 1, hs.ConsecutiveErrors)
		}
	}
	require.True(t, found)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t, fetcherFunc(func(context.Context, fetch.Request) (fetch.Response, error) {
		return fetch.Response{}, nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Body.String())
}
