package identity

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDenylistPrefix namespaces denylist keys in Redis.
const DefaultDenylistPrefix = "identity:denylist:"

// RedisDenylist stores revoked credential generations in Redis with a TTL
// matching the remaining credential lifetime, so entries disappear once the
// credentials they block would have expired anyway.
type RedisDenylist struct {
	client redis.Cmdable
	prefix string
}

// NewRedisDenylist builds a denylist over the given client. Prefix may be
// empty, in which case DefaultDenylistPrefix is used.
func NewRedisDenylist(client redis.Cmdable, prefix string) *RedisDenylist {
	if prefix == "" {
		prefix = DefaultDenylistPrefix
	}
	return &RedisDenylist{client: client, prefix: prefix}
}

func (d *RedisDenylist) key(subject, stamp string) string {
	return d.prefix + subject + ":" + stamp
}

// Revoke implements Denylist.
func (d *RedisDenylist) Revoke(ctx context.Context, subject, stamp string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return d.client.Set(ctx, d.key(subject, stamp), "1", ttl).Err()
}

// IsRevoked implements Denylist.
func (d *RedisDenylist) IsRevoked(ctx context.Context, subject, stamp string) (bool, error) {
	exists, err := d.client.Exists(ctx, d.key(subject, stamp)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
