// Package dedup implements the content-quality and duplicate-detection
// gate applied before a fetched artifact is accepted.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/aqxion/leadcrawler/internal/metrics"
)

// Rejection reasons returned by Accept. A rejection is a normal
// filtered outcome, not an error.
const (
	ReasonTitleTooShort  = "title too short"
	ReasonBodyTooShort   = "body too short"
	ReasonSpam           = "spam pattern detected"
	ReasonDuplicateURL   = "duplicate url"
	ReasonDuplicateHash  = "duplicate content"
	ReasonSimilarTitle   = "near-duplicate title"
	ReasonSimilarContent = "near-duplicate content"
	ReasonIrrelevantURL  = "irrelevant url pattern"
	ReasonUnrelatedTitle = "title unrelated to keyword"
)

// similarityMaxAge bounds the fuzzy check to recent candidates.
const similarityMaxAge = 24 * time.Hour

// Config controls the filter thresholds. Similarity thresholds are
// tunable; the defaults mirror long-observed values but should be
// verified against real data.
type Config struct {
	MinTitleLength      int
	MinBodyLength       int
	Retention           time.Duration
	SimilarityWindow    int
	TitleSimilarity     float64
	BodySimilarity      float64
	ContentPrefixLength int
}

// Filter is the dedup/validation gate. Safe for concurrent use.
type Filter struct {
	cfg        Config
	index      *recentIndex
	similarAge time.Duration
	logger     *zap.Logger
}

// New creates a Filter with defaults filled in.
func New(cfg Config, logger *zap.Logger) *Filter {
	if cfg.MinTitleLength <= 0 {
		cfg.MinTitleLength = 10
	}
	if cfg.MinBodyLength <= 0 {
		cfg.MinBodyLength = 50
	}
	if cfg.TitleSimilarity <= 0 {
		cfg.TitleSimilarity = 0.85
	}
	if cfg.BodySimilarity <= 0 {
		cfg.BodySimilarity = 0.90
	}
	if cfg.ContentPrefixLength <= 0 {
		cfg.ContentPrefixLength = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// The fuzzy window never outlives the exact-match retention window.
	similarAge := similarityMaxAge
	if cfg.Retention > 0 && cfg.Retention < similarAge {
		similarAge = cfg.Retention
	}
	return &Filter{
		cfg:        cfg,
		index:      newRecentIndex(cfg.Retention, cfg.SimilarityWindow),
		similarAge: similarAge,
		logger:     logger,
	}
}

// Accept runs the checks in order, short-circuiting on the first
// failure. Acceptance registers the URL and content hash so later
// submissions inside the retention window are caught.
func (f *Filter) Accept(title, body, url string) (bool, string) {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)

	if len(title) < f.cfg.MinTitleLength {
		return f.reject(ReasonTitleTooShort, url)
	}
	if len(body) < f.cfg.MinBodyLength {
		return f.reject(ReasonBodyTooShort, url)
	}
	if looksLikeSpam(title, body) {
		return f.reject(ReasonSpam, url)
	}

	normURL := normalizeURL(url)
	if f.index.seenURL(normURL) {
		return f.reject(ReasonDuplicateURL, url)
	}

	prefix := normalizePrefix(body, f.cfg.ContentPrefixLength)
	hash := hashText(prefix)
	if f.index.seenHash(hash) {
		return f.reject(ReasonDuplicateHash, url)
	}

	normTitle := strings.ToLower(title)
	for _, rt := range f.index.recentTexts(f.similarAge) {
		if similarity(normTitle, rt.title) >= f.cfg.TitleSimilarity {
			return f.reject(ReasonSimilarTitle, url)
		}
		if similarity(prefix, rt.bodyPrefix) >= f.cfg.BodySimilarity {
			return f.reject(ReasonSimilarContent, url)
		}
	}

	f.index.register(normURL, hash, normTitle, prefix)
	return true, ""
}

// ShouldFetch pre-filters a URL before any network I/O: boilerplate URL
// sections are skipped, and when a driving keyword is supplied the
// title must relate to it.
func (f *Filter) ShouldFetch(url, title, keyword string) (bool, string) {
	if irrelevantURL(url) {
		return false, ReasonIrrelevantURL
	}
	if keyword == "" {
		return true, ""
	}
	titleLower := strings.ToLower(title)
	keywordLower := strings.ToLower(keyword)
	if strings.Contains(titleLower, keywordLower) {
		return true, ""
	}
	titleWords := make(map[string]struct{})
	for _, w := range strings.Fields(titleLower) {
		titleWords[w] = struct{}{}
	}
	for _, w := range strings.Fields(keywordLower) {
		if _, ok := titleWords[w]; ok {
			return true, ""
		}
	}
	return false, ReasonUnrelatedTitle
}

// ContentHash exposes the filter's hashing scheme so callers can key
// classification caches consistently.
func (f *Filter) ContentHash(body string) string {
	return hashText(normalizePrefix(body, f.cfg.ContentPrefixLength))
}

func (f *Filter) reject(reason, url string) (bool, string) {
	metrics.ObserveDedupRejection(reason)
	f.logger.Debug("artifact rejected", zap.String("reason", reason), zap.String("url", url))
	return false, reason
}

// similarity is a normalized Levenshtein ratio in [0, 1].
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// normalizePrefix lowercases, collapses whitespace and truncates.
func normalizePrefix(text string, length int) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if len(norm) > length {
		norm = norm[:length]
	}
	return norm
}

func normalizeURL(rawURL string) string {
	return strings.TrimRight(strings.ToLower(rawURL), "/")
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
