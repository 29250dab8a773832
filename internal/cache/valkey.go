package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/aqxion/leadcrawler/internal/metrics"
)

// ValkeyConfig controls the distributed tier client.
type ValkeyConfig struct {
	Address             string
	Username            string
	Password            string
	DB                  int
	CompressionMinBytes int
	TTLs                TTLPolicy
	OpTimeout           time.Duration
}

// Valkey is the distributed tier, backed by a valkey/redis server.
type Valkey struct {
	client    valkey.Client
	minBytes  int
	ttls      TTLPolicy
	opTimeout time.Duration
}

// NewValkey connects to the distributed tier and verifies it with a ping.
func NewValkey(cfg ValkeyConfig) (*Valkey, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: valkey address required")
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 500 * time.Millisecond
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: valkey ping: %w", err)
	}

	return &Valkey{
		client:    client,
		minBytes:  cfg.CompressionMinBytes,
		ttls:      cfg.TTLs,
		opTimeout: cfg.OpTimeout,
	}, nil
}

// Get fetches and decompresses the value stored under the key.
func (v *Valkey) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, v.opTimeout)
	defer cancel()

	resp := v.client.Do(ctx, v.client.B().Get().Key(namespacedKey(namespace, key)).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			metrics.ObserveCacheOp("distributed", namespace, "miss")
			return nil, false, nil
		}
		metrics.ObserveCacheOp("distributed", namespace, "error")
		return nil, false, fmt.Errorf("cache: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("cache: valkey get bytes: %w", err)
	}
	out, err := maybeDecompress(payload)
	if err != nil {
		return nil, false, err
	}
	metrics.ObserveCacheOp("distributed", namespace, "hit")
	return out, true, nil
}

// Set stores the value with the resolved TTL.
func (v *Valkey) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	stored, err := maybeCompress(value, v.minBytes)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, v.opTimeout)
	defer cancel()

	cmd := v.client.B().Set().
		Key(namespacedKey(namespace, key)).
		Value(valkey.BinaryString(stored)).
		Px(v.ttls.Resolve(namespace, ttl)).
		Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		metrics.ObserveCacheOp("distributed", namespace, "error")
		return fmt.Errorf("cache: valkey set: %w", err)
	}
	metrics.ObserveCacheOp("distributed", namespace, "set")
	return nil
}

// Delete removes the key.
func (v *Valkey) Delete(ctx context.Context, namespace, key string) error {
	ctx, cancel := context.WithTimeout(ctx, v.opTimeout)
	defer cancel()

	cmd := v.client.B().Del().Key(namespacedKey(namespace, key)).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: valkey del: %w", err)
	}
	return nil
}

// Exists reports whether the key is present.
func (v *Valkey) Exists(ctx context.Context, namespace, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, v.opTimeout)
	defer cancel()

	cmd := v.client.B().Exists().Key(namespacedKey(namespace, key)).Build()
	n, err := v.client.Do(ctx, cmd).ToInt64()
	if err != nil {
		return false, fmt.Errorf("cache: valkey exists: %w", err)
	}
	return n > 0, nil
}

// ClearNamespace scans and deletes every key in the namespace.
func (v *Valkey) ClearNamespace(ctx context.Context, namespace string) error {
	pattern := namespace + ":*"
	var cursor uint64
	for {
		opCtx, cancel := context.WithTimeout(ctx, v.opTimeout)
		cmd := v.client.B().Scan().Cursor(cursor).Match(pattern).Count(200).Build()
		entry, err := v.client.Do(opCtx, cmd).AsScanEntry()
		cancel()
		if err != nil {
			return fmt.Errorf("cache: valkey scan: %w", err)
		}
		if len(entry.Elements) > 0 {
			opCtx, cancel := context.WithTimeout(ctx, v.opTimeout)
			delCmd := v.client.B().Del().Key(entry.Elements...).Build()
			err := v.client.Do(opCtx, delCmd).Error()
			cancel()
			if err != nil {
				return fmt.Errorf("cache: valkey del batch: %w", err)
			}
		}
		if entry.Cursor == 0 {
			return nil
		}
		cursor = entry.Cursor
	}
}

// Close releases the client connection pool.
func (v *Valkey) Close() {
	v.client.Close()
}
