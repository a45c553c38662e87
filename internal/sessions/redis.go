package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/models"
)

const keyPrefix = "collector:session:"

// RedisStore keeps sessions in Redis as JSON with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a Redis-backed session store.
func NewRedisStore(addr, password string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
	}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	raw, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w: %w", common.ErrTransientStore, err)
	}
	var sess models.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *models.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+sess.ID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w: %w", common.ErrTransientStore, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, keyPrefix+id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete session: %w: %w", common.ErrTransientStore, err)
	}
	return nil
}
