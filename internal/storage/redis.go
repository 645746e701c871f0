package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"feedwatch/internal/feed"
	logx "feedwatch/pkg/logx"
)

const redisConnectTimeout = 5 * time.Second

// redisStore keeps the state as one JSON string under a single key.
// SET replaces the value atomically.
type redisStore struct {
	client *redis.Client
	key    string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	key := strings.TrimSpace(cfg.Redis.Key)
	if key == "" {
		key = defaultRedisKey
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &redisStore{client: client, key: key, log: log}, nil
}

func (s *redisStore) Load(ctx context.Context) (feed.State, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return feed.NewState(), nil
	}
	if err != nil {
		return feed.State{}, fmt.Errorf("read state: %w", err)
	}
	st, err := decodeState(b)
	if err != nil {
		s.log.Warn("state corrupt; starting empty", logx.String("driver", "redis"), logx.String("key", s.key), logx.Err(err))
		return feed.NewState(), nil
	}
	return st, nil
}

func (s *redisStore) Save(ctx context.Context, st feed.State) error {
	b, err := encodeState(st)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, b, 0).Err()
}

func (s *redisStore) Close() error { return s.client.Close() }
