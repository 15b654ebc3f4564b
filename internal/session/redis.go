package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTimeout = 5 * time.Second

// Redis is a Store kept in Redis under two keys derived from a prefix,
// typically the track file path.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Store = (*Redis)(nil)

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) openKey() string  { return r.prefix + ":segment_open" }
func (r *Redis) countKey() string { return r.prefix + ":point_count" }

func (r *Redis) IsSegmentOpen() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	v, err := r.client.Get(ctx, r.openKey()).Bool()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("redis get %s: %w", r.openKey(), err)
	}
	return v, nil
}

func (r *Redis) SetSegmentOpen(open bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.openKey(), open, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.openKey(), err)
	}
	return nil
}

func (r *Redis) PointCount() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	v, err := r.client.Get(ctx, r.countKey()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", r.countKey(), err)
	}
	return v, nil
}

func (r *Redis) NextPointCount() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	v, err := r.client.Incr(ctx, r.countKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", r.countKey(), err)
	}
	return int(v), nil
}

func (r *Redis) ClearPointCount() error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := r.client.Del(ctx, r.countKey()).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", r.countKey(), err)
	}
	return nil
}
