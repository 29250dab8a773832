package dedup

import (
	"sync"
	"time"
)

// recentIndex remembers URLs and content hashes seen inside a retention
// window, plus a bounded ring of recent texts for similarity checks.
// Reads are frequent and writes rare, so it is guarded by an RWMutex.
type recentIndex struct {
	retention  time.Duration
	windowSize int

	mu     sync.RWMutex
	urls   map[string]time.Time
	hashes map[string]time.Time
	recent []recentText
}

type recentText struct {
	title      string
	bodyPrefix string
	seenAt     time.Time
}

func newRecentIndex(retention time.Duration, windowSize int) *recentIndex {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if windowSize <= 0 {
		windowSize = 200
	}
	return &recentIndex{
		retention:  retention,
		windowSize: windowSize,
		urls:       make(map[string]time.Time),
		hashes:     make(map[string]time.Time),
	}
}

func (i *recentIndex) seenURL(url string) bool {
	i.mu.RLock()
	seenAt, ok := i.urls[url]
	i.mu.RUnlock()
	return ok && time.Since(seenAt) < i.retention
}

func (i *recentIndex) seenHash(hash string) bool {
	i.mu.RLock()
	seenAt, ok := i.hashes[hash]
	i.mu.RUnlock()
	return ok && time.Since(seenAt) < i.retention
}

// recentTexts returns candidates still inside the similarity window
// (bounded by count, not the full retention period).
func (i *recentIndex) recentTexts(maxAge time.Duration) []recentText {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]recentText, 0, len(i.recent))
	for _, rt := range i.recent {
		if time.Since(rt.seenAt) < maxAge {
			out = append(out, rt)
		}
	}
	return out
}

func (i *recentIndex) register(url, hash, title, bodyPrefix string) {
	now := time.Now()
	i.mu.Lock()
	defer i.mu.Unlock()
	i.urls[url] = now
	i.hashes[hash] = now
	i.recent = append(i.recent, recentText{title: title, bodyPrefix: bodyPrefix, seenAt: now})
	if len(i.recent) > i.windowSize {
		i.recent = i.recent[len(i.recent)-i.windowSize:]
	}
	i.pruneLocked(now)
}

// pruneLocked drops expired entries; called opportunistically on write.
func (i *recentIndex) pruneLocked(now time.Time) {
	for url, seenAt := range i.urls {
		if now.Sub(seenAt) >= i.retention {
			delete(i.urls, url)
		}
	}
	for hash, seenAt := range i.hashes {
		if now.Sub(seenAt) >= i.retention {
			delete(i.hashes, hash)
		}
	}
}
