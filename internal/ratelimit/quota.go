package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DailyQuota caps requests per client key per UTC day in Redis
type DailyQuota struct {
	client *redis.Client
	limit  int64
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewDailyQuota creates a quota of limit requests per day
func NewDailyQuota(client *redis.Client, limit int, logger *zap.Logger) *DailyQuota {
	return &DailyQuota{
		client: client,
		limit:  int64(limit),
		prefix: "ragchat:quota",
		logger: logger,
		now:    time.Now,
	}
}

// Allow increments today's counter for key; Redis failures admit the request
func (q *DailyQuota) Allow(ctx context.Context, key string) error {
	if q.limit <= 0 {
		return nil
	}

	now := q.now().UTC()
	redisKey := fmt.Sprintf("%s:%s:%s", q.prefix, key, now.Format("2006-01-02"))

	count, err := q.client.Incr(ctx, redisKey).Result()
	if err != nil {
		q.logger.Warn("daily quota check failed, admitting request",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil
	}
	if count == 1 {
		if err := q.client.Expire(ctx, redisKey, 25*time.Hour).Err(); err != nil {
			q.logger.Warn("failed to set quota expiry", zap.String("key", redisKey), zap.Error(err))
		}
	}

	if count > q.limit {
		midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		return &domain.RateLimitError{
			Reason:     "daily question quota reached, try again tomorrow",
			RetryAfter: midnight.Sub(now),
		}
	}
	return nil
}
