package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks across API instances through Redis SET NX.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisLocker constructs a Redis backed locker. The ttl bounds how long a
// crashed holder can keep the group locked.
func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire sets the lock key when absent.
func (l *RedisLocker) Acquire(ctx context.Context, groupID string) (*Token, error) {
	token := newToken(groupID)
	ok, err := l.client.SetNX(ctx, token.Key, token.Value, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx %s: %w", token.Key, err)
	}
	if !ok {
		return nil, ErrContention
	}
	return token, nil
}

// Release deletes the lock key only when it still carries the token value.
func (l *RedisLocker) Release(ctx context.Context, token *Token) error {
	if token == nil {
		return ErrNotHeld
	}
	n, err := releaseScript.Run(ctx, l.client, []string{token.Key}, token.Value).Int()
	if err != nil {
		return fmt.Errorf("redis release %s: %w", token.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
