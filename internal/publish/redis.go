package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisOptions configure the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Timeout  time.Duration
}

// RedisPublisher publishes events over Redis Pub/Sub on "<prefix>:<type>".
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisClient opens and pings a Redis client.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

func NewRedisPublisher(rdb *redis.Client, prefix string, logger zerolog.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = "arbwatch"
	}
	return &RedisPublisher{
		rdb:    rdb,
		prefix: prefix,
		logger: logger.With().Str("component", "publisher_redis").Logger(),
	}
}

// Channel returns the Pub/Sub channel for an event type.
func (p *RedisPublisher) Channel(t EventType) string {
	return p.prefix + ":" + string(t)
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	channel := p.Channel(event.Type)
	receivers, err := p.rdb.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	p.logger.Debug().Str("channel", channel).Int64("receivers", receivers).Int("bytes", len(payload)).Msg("event published")
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// LogPublisher writes events to the log. It is the fallback when no bus is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "publisher_log").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	p.logger.Debug().Str("type", string(event.Type)).RawJSON("data", payload).Msg("event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

var (
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)
