// Package cache provides a distributed read-through cache for entity
// registry metadata, backed by github.com/redis/go-redis/v9. It exists for
// deployments that run many capture-interceptor processes behind a shared
// control plane: a metadata change (say, an operator raising an
// aggregate's max_retries) published once becomes visible to every process
// without a redeploy, instead of waiting on each process's local registry.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/outboxrelay/outboxrelay/internal/core/capture"
	"github.com/outboxrelay/outboxrelay/internal/core/registry"
)

const keyPrefix = "outbox:registry:"

// MetadataCache is a thin read-through layer in front of a
// registry.Registry, letting capture interceptors on multiple hosts share
// metadata overrides through Redis. It satisfies capture.MetadataSource, so
// it plugs into Interceptor.WithMetadataCache directly.
type MetadataCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ capture.MetadataSource = (*MetadataCache)(nil)

// New wraps an existing redis client. ttl bounds how long a cached
// override survives without being refreshed.
func New(client *redis.Client, ttl time.Duration) *MetadataCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MetadataCache{client: client, ttl: ttl}
}

// Put publishes metadata for aggregateType so other processes' Get calls
// observe it.
func (c *MetadataCache) Put(ctx context.Context, aggregateType string, meta registry.Metadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cache: marshal metadata: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+aggregateType, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: put metadata: %w", err)
	}
	return nil
}

// Get returns a previously published override, if any. A cache miss is
// not an error: callers fall back to their local registry.
func (c *MetadataCache) Get(ctx context.Context, aggregateType string) (registry.Metadata, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+aggregateType).Bytes()
	if err == redis.Nil {
		return registry.Metadata{}, false, nil
	}
	if err != nil {
		return registry.Metadata{}, false, fmt.Errorf("cache: get metadata: %w", err)
	}
	var meta registry.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return registry.Metadata{}, false, fmt.Errorf("cache: unmarshal metadata: %w", err)
	}
	return meta, true, nil
}
