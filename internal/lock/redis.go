package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("timeout waiting for lock")

const keyPrefix = "checkout:order-lock:"

// releaseScript deletes the lease only if it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`)

// Redis is a lease-based lock shared by every instance talking to the same
// Redis. The lease expires after ttl so a crashed holder cannot block an
// order forever; ttl must exceed the longest payment authorization.
type Redis struct {
	client  redis.UniversalClient
	ttl     time.Duration
	retry   time.Duration
	maxWait time.Duration
	logger  *slog.Logger
}

func NewRedis(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Redis {
	return &Redis{
		client:  client,
		ttl:     ttl,
		retry:   50 * time.Millisecond,
		maxWait: ttl,
		logger:  logger,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.maxWait)

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", redisKey, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}

	return func() {
		// the caller's context may already be done; release must still run
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
			r.logger.Warn("release order lock failed", "key", redisKey, "err", err)
		}
	}, nil
}
