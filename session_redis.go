package identity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// DefaultSessionPrefix namespaces session keys in Redis.
const DefaultSessionPrefix = "identity:session:"

// RedisSessionStore persists session records as JSON under
// "<prefix><reference>" with TTL = expiry - now. A companion set under
// "<prefix>user:<id>" indexes references per subject so DeleteByUser can
// revoke everything a user holds.
type RedisSessionStore struct {
	client redis.Cmdable
	prefix string
	clock  func() time.Time
}

// NewRedisSessionStore builds a session store over the given client. Prefix
// may be empty, in which case DefaultSessionPrefix is used.
func NewRedisSessionStore(client redis.Cmdable, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = DefaultSessionPrefix
	}
	return &RedisSessionStore{client: client, prefix: prefix, clock: time.Now}
}

// WithClock overrides the time source, mostly for tests.
func (s *RedisSessionStore) WithClock(clock func() time.Time) *RedisSessionStore {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *RedisSessionStore) key(ref string) string {
	return s.prefix + ref
}

func (s *RedisSessionStore) userKey(userID string) string {
	return s.prefix + "user:" + userID
}

// Save implements SessionStore.
func (s *RedisSessionStore) Save(ctx context.Context, record *SessionRecord) error {
	if record == nil || record.Reference == "" {
		return ErrNoEmptyString
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	ttl := record.ExpiresAt.Sub(s.clock())
	if ttl <= 0 {
		// never store an already expired record
		ttl = time.Second
	}

	if err := s.client.Set(ctx, s.key(record.Reference), payload, ttl).Err(); err != nil {
		return err
	}

	if record.UserID == "" {
		return nil
	}
	if err := s.client.SAdd(ctx, s.userKey(record.UserID), record.Reference).Err(); err != nil {
		return err
	}
	// keep the index from outliving the last session it could point at
	return s.client.Expire(ctx, s.userKey(record.UserID), ttl).Err()
}

// Find implements SessionStore.
func (s *RedisSessionStore) Find(ctx context.Context, ref string) (*SessionRecord, error) {
	payload, err := s.client.Get(ctx, s.key(ref)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound.Clone()
		}
		return nil, err
	}

	var record SessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, err
	}

	// the stored value may outlive its logical expiry when clocks drift
	if record.Expired(s.clock()) {
		_ = s.client.Del(ctx, s.key(ref)).Err()
		return nil, ErrSessionNotFound.Clone()
	}
	return &record, nil
}

// Delete implements SessionStore.
func (s *RedisSessionStore) Delete(ctx context.Context, ref string) error {
	record, err := s.Find(ctx, ref)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	if record.UserID != "" {
		_ = s.client.SRem(ctx, s.userKey(record.UserID), ref).Err()
	}
	return s.client.Del(ctx, s.key(ref)).Err()
}

// DeleteByUser implements SessionStore.
func (s *RedisSessionStore) DeleteByUser(ctx context.Context, userID string) error {
	refs, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	keys := make([]string, 0, len(refs)+1)
	for _, ref := range refs {
		keys = append(keys, s.key(ref))
	}
	keys = append(keys, s.userKey(userID))
	return s.client.Del(ctx, keys...).Err()
}
