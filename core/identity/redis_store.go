package identity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forgeq/forgeq/core/infra/redisutil"
)

const (
	identityKeyPrefix = "identity:"
	identityIndexKey  = "identity:index"

	fieldEmail     = "email"
	fieldPlan      = "plan"
	fieldTasksUsed = "tasks_used"
	fieldCreatedAt = "created_at"
)

// RedisStore implements Store backed by Redis, so multiple gateway replicas
// share one usage ledger. Reservations use WATCH transactions for the
// compare-and-increment.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis using a redis:// URL.
func NewRedisStore(url string) (*RedisStore, error) {
	client, err := redisutil.NewClient(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func identityKey(apiKey string) string {
	return identityKeyPrefix + apiKey
}

func (s *RedisStore) Resolve(ctx context.Context, apiKey string) (Identity, error) {
	if apiKey == "" {
		return Identity{}, ErrUnknownKey
	}
	fields, err := s.client.HGetAll(ctx, identityKey(apiKey)).Result()
	if err != nil {
		return Identity{}, err
	}
	if len(fields) == 0 {
		return Identity{}, ErrUnknownKey
	}
	used, _ := strconv.Atoi(fields[fieldTasksUsed])
	createdUnix, _ := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	return Identity{
		APIKey:             apiKey,
		Email:              fields[fieldEmail],
		Plan:               Plan(fields[fieldPlan]),
		TasksUsedThisMonth: used,
		CreatedAt:          time.Unix(createdUnix, 0).UTC(),
	}, nil
}

func (s *RedisStore) Put(ctx context.Context, ident Identity) error {
	if ident.APIKey == "" {
		return fmt.Errorf("api key required")
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, identityKey(ident.APIKey), map[string]any{
		fieldEmail:     ident.Email,
		fieldPlan:      string(ident.Plan),
		fieldTasksUsed: ident.TasksUsedThisMonth,
		fieldCreatedAt: ident.CreatedAt.Unix(),
	})
	pipe.SAdd(ctx, identityIndexKey, ident.APIKey)
	_, err := pipe.Exec(ctx)
	return err
}

// Reserve atomically increments monthly usage unless the ceiling is reached.
func (s *RedisStore) Reserve(ctx context.Context, apiKey string, limit int) (int, error) {
	key := identityKey(apiKey)
	var used int
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return ErrUnknownKey
		}
		current, err := tx.HGet(ctx, key, fieldTasksUsed).Int()
		if err != nil && err != redis.Nil {
			return err
		}
		if limit != Unlimited && current >= limit {
			used = current
			return ErrLimitReached
		}
		pipe := tx.TxPipeline()
		incr := pipe.HIncrBy(ctx, key, fieldTasksUsed, 1)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		used = int(incr.Val())
		return nil
	}, key)
	return used, err
}

// Release undoes one reservation, flooring usage at zero.
func (s *RedisStore) Release(ctx context.Context, apiKey string) error {
	key := identityKey(apiKey)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return ErrUnknownKey
		}
		current, err := tx.HGet(ctx, key, fieldTasksUsed).Int()
		if err != nil && err != redis.Nil {
			return err
		}
		if current <= 0 {
			return nil
		}
		pipe := tx.TxPipeline()
		pipe.HIncrBy(ctx, key, fieldTasksUsed, -1)
		_, err = pipe.Exec(ctx)
		return err
	}, key)
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, identityIndexKey).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
