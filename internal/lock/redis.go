package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures a RedisLocker.
type RedisConfig struct {
	Addr      string        // host:port
	Password  string        // optional AUTH password
	Prefix    string        // key prefix (default "momentum:lock:")
	TTL       time.Duration // lock expiry guarding against crashed holders (default 10s)
	RetryWait time.Duration // poll interval while waiting (default 25ms)
	MaxIdle   int           // idle pool connections (default 8)
}

// RedisLocker is a Locker shared across processes via Redis SET NX PX.
type RedisLocker struct {
	pool *redis.Pool
	cfg  RedisConfig
}

// NewRedisLocker dials Redis lazily through a connection pool and verifies
// connectivity with a PING.
func NewRedisLocker(ctx context.Context, cfg RedisConfig) (*RedisLocker, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "momentum:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 25 * time.Millisecond
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 8
	}

	opts := []redis.DialOption{redis.DialConnectTimeout(5 * time.Second)}
	if cfg.Password != "" {
		opts = append(opts, redis.DialPassword(cfg.Password))
	}

	pool := &redis.Pool{
		MaxIdle:     cfg.MaxIdle,
		IdleTimeout: 4 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", cfg.Addr, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	conn, err := pool.GetContext(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisLocker{pool: pool, cfg: cfg}, nil
}

// Lock polls SET NX PX until the key is acquired or ctx is done.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := r.cfg.Prefix + key
	token := uuid.NewString()
	ttlMillis := r.cfg.TTL.Milliseconds()

	for {
		ok, err := r.tryAcquire(ctx, fullKey, token, ttlMillis)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-time.After(r.cfg.RetryWait):
		}
	}

	return func() { r.release(fullKey, token) }, nil
}

func (r *RedisLocker) tryAcquire(ctx context.Context, key, token string, ttlMillis int64) (bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return false, fmt.Errorf("redis conn: %w", err)
	}
	defer conn.Close()

	reply, err := redis.String(conn.Do("SET", key, token, "NX", "PX", ttlMillis))
	if err == redis.ErrNil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis set: %w", err)
	}
	return reply == "OK", nil
}

func (r *RedisLocker) release(key, token string) {
	conn := r.pool.Get()
	defer conn.Close()
	if _, err := releaseScript.Do(conn, key, token); err != nil {
		// The TTL frees the key eventually
		log.Warn().Err(err).Str("key", key).Msg("Failed to release redis lock")
	}
}

// Close closes the connection pool.
func (r *RedisLocker) Close() error {
	return r.pool.Close()
}
