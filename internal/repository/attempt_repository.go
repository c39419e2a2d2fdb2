package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptTTL 是失败计数在 Redis 中的保留时间。
const AttemptTTL = 24 * time.Hour

// AttemptRepository 用 Redis 记录异步任务的失败次数。
type AttemptRepository struct {
	redisClient *redis.Client
}

// NewAttemptRepository 创建一个新的 AttemptRepository 实例。
func NewAttemptRepository(redisClient *redis.Client) *AttemptRepository {
	return &AttemptRepository{redisClient: redisClient}
}

// Incr 将计数加一并刷新过期时间，返回加一后的值。
func (r *AttemptRepository) Incr(ctx context.Context, key string) (int64, error) {
	pipe := r.redisClient.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, AttemptTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Reset 清除计数。
func (r *AttemptRepository) Reset(ctx context.Context, key string) error {
	return r.redisClient.Del(ctx, key).Err()
}
