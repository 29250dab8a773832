package fetch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aqxion/leadcrawler/internal/ratelimit"
)

// distinctPages are different enough to pass duplicate detection.
var distinctPages = []struct{ title, body string }{
	{"Looking for an emergency plumber in Madrid",
		"My kitchen sink has been leaking since yesterday and I need someone reliable to fix it this week."},
	{"Need an electrician for warehouse lighting upgrade",
		"We are replacing all the fixtures in a warehouse north of the city and want quotes from licensed pros."},
	{"Roof repair quotes wanted after storm damage",
		"Several tiles came loose during last week's storm and water is getting into the attic insulation."},
	{"Recommendations for office painting contractors",
		"Our company is moving into a new space downtown and the walls need a full repaint before furniture arrives."},
	{"Garden landscaping project for a small patio",
		"We want to redo the back patio with native plants and some simple stone paths, open to design ideas."},
	{"Custom carpentry for built-in bookshelves",
		"The living room has an awkward alcove that would suit floor to ceiling shelving, looking for a carpenter."},
}

// concurrencyFetcher tracks the highest number of in-flight calls.
type concurrencyFetcher struct {
	current atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
	delay   time.Duration
	fail    map[string]error
}

func (c *concurrencyFetcher) Fetch(ctx context.Context, req Request) (Response, error) {
	cur := c.current.Add(1)
	defer c.current.Add(-1)
	for {
		peak := c.peak.Load()
		if cur <= peak || c.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	c.calls.Add(1)

	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(c.delay):
		}
	}
	if err, ok := c.fail[req.URL]; ok {
		return Response{}, err
	}
	i := 0
	fmt.Sscanf(req.URL[len(req.URL)-1:], "%d", &i)
	p := distinctPages[i%len(distinctPages)]
	return Response{StatusCode: 200, Body: []byte(page(p.title, p.body))}, nil
}

func newPoolEnv(t *testing.T, f Fetcher, poolCfg PoolConfig) *Pool {
	t.Helper()
	env := newTestEnv(t, f, ratelimit.Config{DefaultRPS: 1000, DefaultBurst: 1000})
	return NewPool(env.orch, poolCfg, nil)
}

func TestPoolBoundsGlobalConcurrency(t *testing.T) {
	t.Parallel()
	f := &concurrencyFetcher{delay: 30 * time.Millisecond}
	pool := newPoolEnv(t, f, PoolConfig{Concurrency: 2, PerHostMax: 2})

	urls := make([]string, len(distinctPages))
	for i := range urls {
		urls[i] = fmt.Sprintf("https://host%d.example.com/post/%d", i, i)
	}

	results := pool.FetchBatch(context.Background(), urls, "")
	require.Len(t, results, len(urls))
	for _, r := range results {
		require.NoError(t, r.Err, "url %s", r.URL)
	}
	require.LessOrEqual(t, f.peak.Load(), int32(2))
	require.Equal(t, int32(len(urls)), f.calls.Load())
}

func TestPoolBoundsPerHostConcurrency(t *testing.T) {
	t.Parallel()
	f := &concurrencyFetcher{delay: 30 * time.Millisecond}
	pool := newPoolEnv(t, f, PoolConfig{Concurrency: 4, PerHostMax: 1})

	urls := []string{
		"https://one.example.com/post/0",
		"https://one.example.com/post/1",
		"https://one.example.com/post/2",
	}
	results := pool.FetchBatch(context.Background(), urls, "")
	for _, r := range results {
		require.NoError(t, r.Err, "url %s", r.URL)
	}
	require.LessOrEqual(t, f.peak.Load(), int32(1),
		"a single host must never exceed its slot count")
}

func TestPoolBatchPreservesOrderAndIsolatesFailures(t *testing.T) {
	t.Parallel()
	bad := "https://broken.example.com/post/1"
	f := &concurrencyFetcher{fail: map[string]error{bad: &StatusError{StatusCode: 404}}}
	pool := newPoolEnv(t, f, PoolConfig{Concurrency: 4, PerHostMax: 2})

	urls := []string{
		"https://a.example.com/post/0",
		bad,
		"https://c.example.com/post/2",
	}
	results := pool.FetchBatch(context.Background(), urls, "")
	require.Len(t, results, 3)

	for i, r := range results {
		require.Equal(t, urls[i], r.URL, "results must preserve input order")
	}
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	require.NoError(t, results[2].Err)

	var fetchErr *Error
	require.ErrorAs(t, results[1].Err, &fetchErr)
	require.Equal(t, 404, fetchErr.StatusCode)
}

func TestPoolHonorsContextWhileQueued(t *testing.T) {
	t.Parallel()
	f := &concurrencyFetcher{delay: 200 * time.Millisecond}
	pool := newPoolEnv(t, f, PoolConfig{Concurrency: 1, PerHostMax: 1})

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = pool.Fetch(ctx, "https://slow.example.com/post/0")
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	cancel()
	start := time.Now()
	_, err := pool.Fetch(ctx, "https://other.example.com/post/1")
	require.Error(t, err)
	require.Less(t, time.Since(start), 150*time.Millisecond,
		"queued fetches must give up when the context ends")
}

func TestPoolDefaults(t *testing.T) {
	t.Parallel()
	f := &concurrencyFetcher{}
	pool := newPoolEnv(t, f, PoolConfig{})

	artifact, err := pool.Fetch(context.Background(), "https://defaults.example.com/post/0")
	require.NoError(t, err)
	require.NotEmpty(t, artifact.ID)
}
