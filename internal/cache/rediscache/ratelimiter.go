package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter считает обращения к службе выполнения в фиксированном окне.
// Границу окна задаёт вызывающий, вшивая её метку в ключ (реконсилятор
// кладёт туда текущую минуту), поэтому TTL здесь не граница окна, а
// уборка: он обновляется на каждом INCR и определяет лишь то, когда
// отживший счётчик исчезнет из Redis.
type RateLimiter struct {
	rdb *redis.Client
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Allow инкрементит счётчик окна и сообщает, укладывается ли вызов в лимит.
// INCR и EXPIRE идут одной транзакцией, чтобы счётчик не завис без TTL.
// Возвращает также текущее значение счётчика для логов.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrap(err, "ratelimit incr")
	}
	n := incr.Val()
	return n <= limit, n, nil
}
