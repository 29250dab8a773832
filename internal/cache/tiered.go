package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Tiered composes the local tier with an optional distributed tier.
// Distributed failures are logged and absorbed; the caller only sees an
// error when the local tier itself fails.
type Tiered struct {
	local       *Local
	distributed *Valkey
	logger      *zap.Logger
}

// NewTiered wires the tiers together. distributed may be nil for
// single-node operation.
func NewTiered(local *Local, distributed *Valkey, logger *zap.Logger) *Tiered {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiered{local: local, distributed: distributed, logger: logger}
}

// Get tries the distributed tier first, falling back to the local tier
// on error or miss. Distributed hits repopulate the local tier; local
// hits are opportunistically written back to the distributed tier.
func (t *Tiered) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	if t.distributed != nil {
		value, ok, err := t.distributed.Get(ctx, namespace, key)
		if err != nil {
			t.logger.Debug("distributed cache get failed, using local tier",
				zap.String("namespace", namespace), zap.Error(err))
		} else if ok {
			if setErr := t.local.Set(ctx, namespace, key, value, 0); setErr != nil {
				t.logger.Debug("local tier populate failed", zap.Error(setErr))
			}
			return value, true, nil
		}
	}

	value, ok, err := t.local.Get(ctx, namespace, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if t.distributed != nil {
		// Best effort writeback; the distributed tier may have restarted.
		if err := t.distributed.Set(ctx, namespace, key, value, 0); err != nil {
			t.logger.Debug("distributed writeback failed", zap.Error(err))
		}
	}
	return value, true, nil
}

// Set writes both tiers. Success reflects the local write only.
func (t *Tiered) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if t.distributed != nil {
		if err := t.distributed.Set(ctx, namespace, key, value, ttl); err != nil {
			t.logger.Debug("distributed cache set failed, local tier only",
				zap.String("namespace", namespace), zap.Error(err))
		}
	}
	return t.local.Set(ctx, namespace, key, value, ttl)
}

// Delete removes the key from both tiers.
func (t *Tiered) Delete(ctx context.Context, namespace, key string) error {
	if t.distributed != nil {
		if err := t.distributed.Delete(ctx, namespace, key); err != nil {
			t.logger.Debug("distributed cache delete failed", zap.Error(err))
		}
	}
	return t.local.Delete(ctx, namespace, key)
}

// Exists consults the distributed tier when reachable, then the local tier.
func (t *Tiered) Exists(ctx context.Context, namespace, key string) (bool, error) {
	if t.distributed != nil {
		ok, err := t.distributed.Exists(ctx, namespace, key)
		if err == nil && ok {
			return true, nil
		}
	}
	return t.local.Exists(ctx, namespace, key)
}

// ClearNamespace clears the namespace in both tiers.
func (t *Tiered) ClearNamespace(ctx context.Context, namespace string) error {
	if t.distributed != nil {
		if err := t.distributed.ClearNamespace(ctx, namespace); err != nil {
			t.logger.Warn("distributed namespace clear failed",
				zap.String("namespace", namespace), zap.Error(err))
		}
	}
	return t.local.ClearNamespace(ctx, namespace)
}

var _ Cache = (*Tiered)(nil)
var _ Cache = (*Local)(nil)
var _ Cache = (*Valkey)(nil)
