package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const _keyPrefix = "paper-trader:lock:"

// release deletes the key only while it still holds our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared between processes. A holder that dies releases the key after ttl.
type Redis struct {
	client *redis.Client
	logger logger.Logger
	ttl    time.Duration
	retry  time.Duration
}

func NewRedis(client *redis.Client, logger logger.Logger, ttl, retry time.Duration) *Redis {
	return &Redis{
		client: client,
		logger: logger,
		ttl:    ttl,
		retry:  retry,
	}
}

func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: can't ping redis %s", err, addr)
	}
	return client, nil
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	key = _keyPrefix + key
	token := uuid.NewString()

	t := time.NewTicker(r.retry)
	defer t.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: can't acquire %s", err, key)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			r.logger.Errorf("can't release %s: %v", key, err)
		}
	}, nil
}
