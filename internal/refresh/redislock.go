package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLocker arbitrates refresh attempts across a fleet of broker
// instances via a Redis SET NX lock (§4.6 step 2): only the instance
// holding the key for a given connection may call the upstream token
// endpoint, so two instances racing the same connection never both fire.
type RedisLocker struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

const defaultLockTTL = 30 * time.Second

func (l *RedisLocker) key(k string) string {
	prefix := l.Prefix
	if prefix == "" {
		prefix = "authbroker:refresh"
	}
	return prefix + ":" + k
}

func (l *RedisLocker) ttl() time.Duration {
	if l.TTL > 0 {
		return l.TTL
	}
	return defaultLockTTL
}

// Lock blocks until the advisory lock is acquired or ctx is done. The
// returned release func best-effort deletes the key if it still holds the
// token we set; a lock that outlives its TTL is simply reclaimed by the
// next holder, so a crashed instance can never wedge a connection forever.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	fullKey := l.key(key)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := l.Client.SetNX(ctx, fullKey, token, l.ttl()).Result()
		if err != nil {
			return nil, fmt.Errorf("refresh: redis lock acquire: %w", err)
		}
		if ok {
			return func() { l.release(fullKey, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) release(fullKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	val, err := l.Client.Get(ctx, fullKey).Result()
	if err != nil {
		return
	}
	if val == token {
		l.Client.Del(ctx, fullKey)
	}
}
