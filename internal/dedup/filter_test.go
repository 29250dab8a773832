package dedup

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	validTitle = "Looking for an emergency plumber in Madrid"
	validBody  = "My kitchen sink has been leaking since yesterday and I need " +
		"someone reliable who can come fix it this week. Budget is flexible."
)

func newTestFilter(t *testing.T) *Filter {
	t.Helper()
	return New(Config{}, zap.NewNop())
}

func TestAcceptValidContent(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	ok, reason := f.Accept(validTitle, validBody, "https://example.com/post/1")
	require.True(t, ok, "reason: %s", reason)
	require.Empty(t, reason)
}

func TestRejectShortTitle(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	ok, reason := f.Accept("short", validBody, "https://example.com/post/2")
	require.False(t, ok)
	require.Equal(t, ReasonTitleTooShort, reason)
}

func TestRejectShortBody(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	ok, reason := f.Accept(validTitle, "too short", "https://example.com/post/3")
	require.False(t, ok)
	require.Equal(t, ReasonBodyTooShort, reason)
}

func TestRejectSpamKeyword(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	ok, reason := f.Accept("You are our lottery winner today", validBody, "https://example.com/post/4")
	require.False(t, ok)
	require.Equal(t, ReasonSpam, reason)
}

func TestRejectAllCapsShouting(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	body := "CALL RIGHT AWAY FOR THE BEST PLUMBING DEALS IN TOWN WE FIX EVERYTHING FAST AND CHEAP GUARANTEED"
	ok, reason := f.Accept("AMAZING PLUMBING DEALS TODAY", body, "https://example.com/post/5")
	require.False(t, ok)
	require.Equal(t, ReasonSpam, reason)
}

func TestRejectLongNumberRuns(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	body := validBody + " call me at 34612345678901 any time"
	ok, reason := f.Accept(validTitle, body, "https://example.com/post/6")
	require.False(t, ok)
	require.Equal(t, ReasonSpam, reason)
}

func TestRejectRepeatedCharacterRuns(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	body := validBody + " pleaseeeee hurry"
	ok, reason := f.Accept(validTitle, body, "https://example.com/post/6a")
	require.False(t, ok)
	require.Equal(t, ReasonSpam, reason)
}

func TestHasRepeatedRun(t *testing.T) {
	t.Parallel()

	require.False(t, hasRepeatedRun("", 5))
	require.False(t, hasRepeatedRun("aaaa", 5))
	require.True(t, hasRepeatedRun("aaaaa", 5))
	require.False(t, hasRepeatedRun("ababababab", 5))
	require.True(t, hasRepeatedRun("noooooo way", 5))
}

func TestRejectDuplicateURL(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	ok, _ := f.Accept(validTitle, validBody, "https://example.com/post/7")
	require.True(t, ok)

	ok, reason := f.Accept(validTitle, validBody, "https://example.com/post/7")
	require.False(t, ok)
	require.Equal(t, ReasonDuplicateURL, reason)
}

func TestDuplicateURLNormalized(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	ok, _ := f.Accept(validTitle, validBody, "https://example.com/Post/8/")
	require.True(t, ok)

	// Case and trailing slash differences still count as the same URL.
	ok, reason := f.Accept(validTitle, validBody, "https://example.com/post/8")
	require.False(t, ok)
	require.Equal(t, ReasonDuplicateURL, reason)
}

func TestRejectDuplicateContentAcrossURLs(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	ok, _ := f.Accept(validTitle, validBody, "https://example.com/post/9")
	require.True(t, ok)

	// Same body reposted under a different URL and whitespace layout.
	reposted := "  " + strings.ReplaceAll(validBody, " ", "  ") + "  "
	ok, reason := f.Accept(validTitle, reposted, "https://mirror.example.com/copy")
	require.False(t, ok)
	require.Equal(t, ReasonDuplicateHash, reason)
}

func TestRejectNearDuplicateTitle(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	ok, _ := f.Accept(validTitle, validBody, "https://example.com/post/10")
	require.True(t, ok)

	otherBody := "The bathroom pipes burst last night and water went everywhere, " +
		"looking for a professional who can handle repairs on short notice."
	ok, reason := f.Accept(validTitle+"!", otherBody, "https://example.com/post/11")
	require.False(t, ok)
	require.Equal(t, ReasonSimilarTitle, reason)
}

func TestRejectNearDuplicateBody(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	ok, _ := f.Accept(validTitle, validBody, "https://example.com/post/12")
	require.True(t, ok)

	otherTitle := "Recommendations wanted for office renovations downtown"
	tweaked := strings.Replace(validBody, "yesterday", "last night", 1)
	ok, reason := f.Accept(otherTitle, tweaked, "https://example.com/post/13")
	require.False(t, ok)
	require.Equal(t, ReasonSimilarContent, reason)
}

func TestAcceptDistinctContent(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	ok, _ := f.Accept(validTitle, validBody, "https://example.com/post/14")
	require.True(t, ok)

	otherTitle := "Need an electrician for warehouse lighting upgrade"
	otherBody := "We are replacing all the fixtures in a warehouse north of the city " +
		"and want quotes from licensed electricians with commercial experience."
	ok, reason := f.Accept(otherTitle, otherBody, "https://example.com/post/15")
	require.True(t, ok, "reason: %s", reason)
}

func TestRetentionWindowExpires(t *testing.T) {
	t.Parallel()
	f := New(Config{Retention: 30 * time.Millisecond}, zap.NewNop())

	ok, _ := f.Accept(validTitle, validBody, "https://example.com/post/16")
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)

	ok, reason := f.Accept(validTitle, validBody, "https://example.com/post/16")
	require.True(t, ok, "reason: %s", reason)
}

func TestShouldFetchSkipsBoilerplateURLs(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	for _, url := range []string{
		"https://example.com/tag/plumbing",
		"https://example.com/blog/feed",
		"https://example.com/wp-admin/options.php",
		"https://example.com/search?q=pipes",
	} {
		ok, reason := f.ShouldFetch(url, validTitle, "")
		require.False(t, ok, "url %q should be skipped", url)
		require.Equal(t, ReasonIrrelevantURL, reason)
	}
}

func TestShouldFetchKeywordRelation(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	url := "https://example.com/post/17"

	ok, _ := f.ShouldFetch(url, "Emergency Plumber needed downtown", "plumber")
	require.True(t, ok)

	// Word-level overlap is enough for multi-word keywords.
	ok, _ = f.ShouldFetch(url, "Best rates for boiler repair", "boiler installation madrid")
	require.True(t, ok)

	ok, reason := f.ShouldFetch(url, "Top ten salad recipes for summer", "plumber")
	require.False(t, ok)
	require.Equal(t, ReasonUnrelatedTitle, reason)

	// No keyword means no relation check.
	ok, _ = f.ShouldFetch(url, "Top ten salad recipes for summer", "")
	require.True(t, ok)
}

func TestContentHashNormalizes(t *testing.T) {
	t.Parallel()
	f := newTestFilter(t)

	a := f.ContentHash("Leaking sink needs repair")
	b := f.ContentHash("  leaking   SINK needs repair ")
	require.Equal(t, a, b)
	require.NotEqual(t, a, f.ContentHash("something else entirely"))
	require.Len(t, a, 64)
}

func TestSimilarityRatio(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 1.0, similarity("same text", "same text"), 0.001)
	require.InDelta(t, 0.0, similarity("", "anything"), 0.001)
	require.Greater(t, similarity("plumber needed in madrid", "plumber needed in madrid!"), 0.9)
	require.Less(t, similarity("plumber needed", "salad recipes"), 0.4)
}

func TestExcessiveRepetition(t *testing.T) {
	t.Parallel()

	repeated := strings.Repeat("discount ", 12)
	require.True(t, excessiveRepetition(repeated))
	require.False(t, excessiveRepetition(validBody))
	require.False(t, excessiveRepetition("short text"))
}
