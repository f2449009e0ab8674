package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"moff.io/snap-bridge/internal/snap"
	"moff.io/snap-bridge/pkg/errors"
)

const metadataKeyPrefix = "snap-bridge:metadata:"

// MetadataCache remembers the chain metadata last provided to the snap, per network.
type MetadataCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewMetadataCache(client redis.Cmdable, ttl time.Duration) *MetadataCache {
	return &MetadataCache{client: client, ttl: ttl}
}

func metadataKey(network string) string {
	return fmt.Sprintf("%v%v", metadataKeyPrefix, network)
}

// GetMetadata returns nil without error on a miss.
func (c *MetadataCache) GetMetadata(ctx context.Context, network string) (*snap.Metadata, error) {
	raw, err := c.client.Get(ctx, metadataKey(network)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get metadata cache")
	}
	var md snap.Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, errors.Wrap(err, "decode metadata cache")
	}
	return &md, nil
}

func (c *MetadataCache) SetMetadata(ctx context.Context, md *snap.Metadata) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(c.client.Set(ctx, metadataKey(md.Network), raw, c.ttl).Err(), "set metadata cache")
}

// DeleteFromPrefix removes every key under prefix.
func DeleteFromPrefix(ctx context.Context, client redis.Cmdable, prefix string) error {
	var (
		cursor uint64
		match        = fmt.Sprintf("%v*", prefix)
		count  int64 = 200
	)
	for {
		keys, c, err := client.Scan(ctx, cursor, match, count).Result()
		if err != nil {
			return errors.WrapAndReport(err, "scan caches")
		}
		cursor = c
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				return errors.WrapAndReport(err, "delete caches")
			}
		}
		if c == 0 {
			return nil
		}
	}
}

// ClearMetadata forgets the metadata of every network.
func (c *MetadataCache) ClearMetadata(ctx context.Context) error {
	return DeleteFromPrefix(ctx, c.client, metadataKeyPrefix)
}
