package runlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultTTL bounds how long a crashed holder keeps the lock.
const DefaultTTL = 30 * time.Minute

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ConnSource hands out redis connections. *redis.Pool implements it.
type ConnSource interface {
	GetContext(ctx context.Context) (redis.Conn, error)
}

// RedisLocker serializes runs across processes sharing one redis.
type RedisLocker struct {
	conns  ConnSource
	prefix string
	ttl    time.Duration
}

var _ Locker = (*RedisLocker)(nil)

// NewPool creates a redis connection pool for addr.
func NewPool(addr string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     2,
		IdleTimeout: 5 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", addr,
				redis.DialConnectTimeout(5*time.Second),
				redis.DialReadTimeout(5*time.Second),
				redis.DialWriteTimeout(5*time.Second),
			)
		},
	}
}

// NewRedisLocker creates a locker storing keys as prefix+name.
func NewRedisLocker(conns ConnSource, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{conns: conns, prefix: prefix, ttl: ttl}
}

// Acquire sets the lock key if it is absent.
func (l *RedisLocker) Acquire(ctx context.Context, name string) (func(), error) {
	key := l.prefix + name
	token := uuid.NewString()

	conn, err := l.conns.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	reply, err := redis.DoContext(conn, ctx, "SET", key, token, "NX", "PX", l.ttl.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if reply == nil {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, token) })
	}, nil
}

func (l *RedisLocker) release(key, token string) {
	// The run context may already be canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := l.conns.GetContext(ctx)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to release run lock")
		return
	}
	defer conn.Close()

	if _, err := releaseScript.DoContext(ctx, conn, key, token); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to release run lock")
	}
}
