package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aqxion/leadcrawler/internal/metrics"
)

type localEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Local is the in-process tier: a bounded, internally synchronized
// store with TTL expiry, LRU eviction and transparent compression.
type Local struct {
	maxEntries int
	minBytes   int
	ttls       TTLPolicy

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

// LocalConfig controls the local tier.
type LocalConfig struct {
	MaxEntries          int
	CompressionMinBytes int
	TTLs                TTLPolicy
}

// NewLocal creates the in-process tier.
func NewLocal(cfg LocalConfig) *Local {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	return &Local{
		maxEntries: cfg.MaxEntries,
		minBytes:   cfg.CompressionMinBytes,
		ttls:       cfg.TTLs,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Get returns the stored value, decompressing on the way out.
func (l *Local) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	k := namespacedKey(namespace, key)
	l.mu.Lock()
	elem, ok := l.entries[k]
	if !ok {
		l.mu.Unlock()
		metrics.ObserveCacheOp("local", namespace, "miss")
		return nil, false, nil
	}
	entry := elem.Value.(*localEntry)
	if time.Now().After(entry.expiresAt) {
		l.removeLocked(elem)
		l.mu.Unlock()
		metrics.ObserveCacheOp("local", namespace, "miss")
		return nil, false, nil
	}
	l.order.MoveToFront(elem)
	value := entry.value
	l.mu.Unlock()

	out, err := maybeDecompress(value)
	if err != nil {
		return nil, false, err
	}
	metrics.ObserveCacheOp("local", namespace, "hit")
	return out, true, nil
}

// Set stores the value, evicting the least recently used entry when full.
func (l *Local) Set(_ context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	stored, err := maybeCompress(value, l.minBytes)
	if err != nil {
		return err
	}
	entry := &localEntry{
		key:       namespacedKey(namespace, key),
		value:     stored,
		expiresAt: time.Now().Add(l.ttls.Resolve(namespace, ttl)),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if elem, ok := l.entries[entry.key]; ok {
		elem.Value = entry
		l.order.MoveToFront(elem)
	} else {
		l.entries[entry.key] = l.order.PushFront(entry)
		for len(l.entries) > l.maxEntries {
			l.removeLocked(l.order.Back())
		}
	}
	metrics.ObserveCacheOp("local", namespace, "set")
	return nil
}

// Delete removes the entry if present.
func (l *Local) Delete(_ context.Context, namespace, key string) error {
	k := namespacedKey(namespace, key)
	l.mu.Lock()
	defer l.mu.Unlock()
	if elem, ok := l.entries[k]; ok {
		l.removeLocked(elem)
	}
	return nil
}

// Exists reports whether a live entry is stored under the key.
func (l *Local) Exists(_ context.Context, namespace, key string) (bool, error) {
	k := namespacedKey(namespace, key)
	l.mu.Lock()
	defer l.mu.Unlock()
	elem, ok := l.entries[k]
	if !ok {
		return false, nil
	}
	if time.Now().After(elem.Value.(*localEntry).expiresAt) {
		l.removeLocked(elem)
		return false, nil
	}
	return true, nil
}

// ClearNamespace drops every entry in the namespace.
func (l *Local) ClearNamespace(_ context.Context, namespace string) error {
	prefix := namespace + ":"
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, elem := range l.entries {
		if strings.HasPrefix(k, prefix) {
			l.removeLocked(elem)
		}
	}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// removeLocked must be called with l.mu held.
func (l *Local) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	delete(l.entries, elem.Value.(*localEntry).key)
	l.order.Remove(elem)
}
