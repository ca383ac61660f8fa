package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
)

const (
	DefaultRedisKey     = "twin:reading"
	DefaultRedisChannel = "twin:readings"
)

// redisClient is the part of *redis.Client the store uses.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// RedisStore keeps the latest reading under a key and publishes each one
// on a channel, so dashboards can either poll or subscribe.
type RedisStore struct {
	client  redisClient
	key     string
	channel string
	ttl     time.Duration
}

// ConnectRedis opens a client for addr and checks it answers PING.
func ConnectRedis(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	monitoring.Infof("redis: connected to %s", addr)
	return newRedisStore(client), nil
}

func newRedisStore(client redisClient) *RedisStore {
	return &RedisStore{
		client:  client,
		key:     DefaultRedisKey,
		channel: DefaultRedisChannel,
		ttl:     time.Minute,
	}
}

func (s *RedisStore) Name() string { return "redis" }

// PublishReading stores payload as the latest reading, expiring after a
// minute of silence, then publishes it.
func (s *RedisStore) PublishReading(ctx context.Context, payload []byte) error {
	if err := s.client.Set(ctx, s.key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.key, err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.channel, err)
	}
	return nil
}

// Latest returns the stored payload, or redis.Nil when nothing is stored.
func (s *RedisStore) Latest(ctx context.Context) ([]byte, error) {
	return s.client.Get(ctx, s.key).Bytes()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
