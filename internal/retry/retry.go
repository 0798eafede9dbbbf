package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy — ограниченный экспоненциальный backoff с джиттером и таймаутом
// на каждую попытку. Один helper на все внешние вызовы (reconciler,
// health-монитор, аудитор), чтобы логика не расползалась по call-site'ам.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		AttemptTimeout: 15 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = def.AttemptTimeout
	}
	return p
}

// Do выполняет fn с повторами. Повторяется только то, что retryable
// считает временным; остальное возвращается сразу (NotFound и прочие
// постоянные ошибки повторять бессмысленно).
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(p, attempt)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// backoffDelay: base * 2^(attempt-1), обрезано по MaxDelay,
// плюс джиттер до 50% чтобы не синхронизировать ретраи между заявками.
func backoffDelay(p Policy, attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt-1)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}
