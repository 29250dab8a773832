// Package cache implements a namespaced two-tier cache: a bounded
// in-process store backed by an optional valkey/redis tier with
// transparent fallback when the distributed tier is unreachable.
package cache

import (
	"context"
	"time"
)

// Well-known namespaces. Callers supply the namespace explicitly so the
// content cache, lookup cache and classification cache never collide.
const (
	NamespaceURLContent     = "url-content"
	NamespaceClassification = "classification"
	NamespaceGeneric        = "generic"
)

// Cache is the uniform get/set abstraction shared by both tiers.
type Cache interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
	Exists(ctx context.Context, namespace, key string) (bool, error)
	ClearNamespace(ctx context.Context, namespace string) error
}

// TTLPolicy resolves the effective TTL for a namespace when the caller
// does not supply one.
type TTLPolicy map[string]time.Duration

// Resolve returns the namespace TTL, the generic TTL, or an hour.
func (p TTLPolicy) Resolve(namespace string, ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if d, ok := p[namespace]; ok && d > 0 {
		return d
	}
	if d, ok := p[NamespaceGeneric]; ok && d > 0 {
		return d
	}
	return time.Hour
}

func namespacedKey(namespace, key string) string {
	return namespace + ":" + key
}
