package pairing

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fernfall/dayline/internal/platform/apperr"
)

const redisKeyPrefix = "dayline:pairing:"

// RedisCodeStore backs pairing codes with Redis TTLs, so expiry is enforced
// by the store itself rather than by a background sweep, and a code read
// via GetDel can never be consumed twice even across multiple server
// processes (spec §4.5, §5's multi-process note).
type RedisCodeStore struct {
	client *redis.Client
}

// NewRedisCodeStore wraps an existing client. The caller owns the client's
// lifecycle (Close).
func NewRedisCodeStore(client *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

func (r *RedisCodeStore) Issue(ctx context.Context, code, sourceID string, ttl time.Duration) error {
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+code, sourceID, ttl).Result()
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "issue pairing code in redis", err)
	}
	if !ok {
		return apperr.New(apperr.ClassConflict, "pairing code already in use")
	}
	return nil
}

func (r *RedisCodeStore) Consume(ctx context.Context, code string) (string, error) {
	sourceID, err := r.client.GetDel(ctx, redisKeyPrefix+code).Result()
	if err == redis.Nil {
		return "", apperr.New(apperr.ClassNotFound, "pairing code is unknown, expired, or already used")
	}
	if err != nil {
		return "", apperr.Wrap(apperr.ClassServerTransient, "consume pairing code in redis", err)
	}
	return sourceID, nil
}
