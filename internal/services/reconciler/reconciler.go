package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/SeerrSync/internal/integrations/fulfillment"
	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/BearBump/SeerrSync/internal/retry"
	"github.com/BearBump/SeerrSync/internal/storage/pgrequests"
	"github.com/pkg/errors"
)

type Repository interface {
	ListActive(ctx context.Context) ([]*models.Request, error)
	ApplyTransition(ctx context.Context, tr pgrequests.Transition) error
	TouchChecked(ctx context.Context, id uint64, at time.Time) error
	RecordCheckFailure(ctx context.Context, id uint64, at time.Time, errMsg string) error
}

type Dispatcher interface {
	DispatchLoaded(ctx context.Context, req *models.Request, force bool) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Summary — итог одного цикла сверки.
type Summary struct {
	Checked   int64 `json:"checked"`
	Advanced  int64 `json:"advanced"`
	Completed int64 `json:"completed"`
	Drift     int64 `json:"drift"`
	Anomalies int64 `json:"anomalies"`
	Failures  int64 `json:"failures"`
}

// Reconciler сверяет активные заявки с внешним сервисом и двигает
// локальные статусы вперёд. Назад статусы не откатывает: расхождение
// против терминального состояния считается дрейфом и остаётся аудитору.
type Reconciler struct {
	repo       Repository
	client     fulfillment.Client
	dispatcher Dispatcher
	rl         RateLimiter

	concurrency        int
	rateLimitPerMinute int64
	retryPolicy        retry.Policy

	startedAtUnixNano int64
	lastCycleUnixNano atomic.Int64
	totalChecked      atomic.Int64
	totalAdvanced     atomic.Int64
	totalCompleted    atomic.Int64
	totalDrift        atomic.Int64
	totalAnomalies    atomic.Int64
	totalFailures     atomic.Int64
	inFlight          atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(repo Repository, client fulfillment.Client, dispatcher Dispatcher, rl RateLimiter) *Reconciler {
	return &Reconciler{
		repo:               repo,
		client:             client,
		dispatcher:         dispatcher,
		rl:                 rl,
		concurrency:        10,
		rateLimitPerMinute: 120,
		retryPolicy:        retry.DefaultPolicy(),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (r *Reconciler) WithSettings(concurrency int, rlPerMin int64, policy retry.Policy) *Reconciler {
	if concurrency > 0 {
		r.concurrency = concurrency
	}
	if rlPerMin > 0 {
		r.rateLimitPerMinute = rlPerMin
	}
	r.retryPolicy = policy
	return r
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	TotalChecked   int64      `json:"totalChecked"`
	TotalAdvanced  int64      `json:"totalAdvanced"`
	TotalCompleted int64      `json:"totalCompleted"`
	TotalDrift     int64      `json:"totalDrift"`
	TotalAnomalies int64      `json:"totalAnomalies"`
	TotalFailures  int64      `json:"totalFailures"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (r *Reconciler) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalChecked:   r.totalChecked.Load(),
		TotalAdvanced:  r.totalAdvanced.Load(),
		TotalCompleted: r.totalCompleted.Load(),
		TotalDrift:     r.totalDrift.Load(),
		TotalAnomalies: r.totalAnomalies.Load(),
		TotalFailures:  r.totalFailures.Load(),
		InFlight:       r.inFlight.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Reconciler) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}

// ReconcileActive выполняет один цикл сверки. Падение одной заявки не
// валит пакет, цикл прерывается только если недоступно хранилище.
func (r *Reconciler) ReconcileActive(ctx context.Context) (Summary, error) {
	now := time.Now().UTC()
	r.lastCycleUnixNano.Store(now.UnixNano())

	items, err := r.repo.ListActive(ctx)
	if err != nil {
		r.setLastError(err)
		return Summary{}, errors.Wrap(err, "list active requests")
	}

	var sum Summary
	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, req := range items {
		sem <- struct{}{}
		wg.Add(1)
		reqCopy := req
		r.inFlight.Add(1)
		go func() {
			defer func() {
				r.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			out := r.reconcileOne(ctx, reqCopy)
			mu.Lock()
			sum.Checked++
			sum.Advanced += out.Advanced
			sum.Completed += out.Completed
			sum.Drift += out.Drift
			sum.Anomalies += out.Anomalies
			sum.Failures += out.Failures
			mu.Unlock()
		}()
	}
	wg.Wait()

	r.totalChecked.Add(sum.Checked)
	r.totalAdvanced.Add(sum.Advanced)
	r.totalCompleted.Add(sum.Completed)
	r.totalDrift.Add(sum.Drift)
	r.totalAnomalies.Add(sum.Anomalies)
	r.totalFailures.Add(sum.Failures)
	return sum, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, req *models.Request) Summary {
	now := time.Now().UTC()

	if r.rl != nil && r.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:fulfillment:%s", now.Format("200601021504"))
		allowed, n, err := r.rl.Allow(ctx, minuteKey, r.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			slog.Warn("rate limiter unavailable, proceeding", "error", err.Error())
		} else if !allowed {
			// Слишком много запросов в минуту: подождём немного, чтобы разгрузить источник.
			slog.Warn("rate limit exceeded", "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	var res fulfillment.Result
	err := retry.Do(ctx, r.retryPolicy, fulfillment.IsTransient, func(ctx context.Context) error {
		var ferr error
		res, ferr = r.client.FetchStatus(ctx, req.ExternalID)
		return ferr
	})
	if err != nil {
		if errors.Is(err, fulfillment.ErrNotFound) {
			// Осиротевшая заявка: удалённой стороны больше нет. Для опроса
			// это дрейф, закрывает такие аудитор.
			slog.Warn("remote request gone", "request_id", req.ID, "external_id", req.ExternalID)
			_ = r.repo.RecordCheckFailure(ctx, req.ID, now, "remote request not found")
			return Summary{Drift: 1}
		}
		r.setLastError(err)
		slog.Error("fetch remote status", "request_id", req.ID, "error", err.Error())
		if rerr := r.repo.RecordCheckFailure(ctx, req.ID, now, err.Error()); rerr != nil {
			slog.Error("record check failure", "request_id", req.ID, "error", rerr.Error())
		}
		return Summary{Failures: 1}
	}

	local, ok := models.MapRemoteStatus(res.Status)
	if !ok {
		slog.Warn("unmapped remote status", "request_id", req.ID, "remote_status", res.Status)
		_ = r.repo.RecordCheckFailure(ctx, req.ID, now, fmt.Sprintf("unmapped remote status %q", res.Status))
		return Summary{Anomalies: 1}
	}

	if local == req.Status {
		if err := r.repo.TouchChecked(ctx, req.ID, now); err != nil {
			r.setLastError(err)
			return Summary{Failures: 1}
		}
		return Summary{}
	}

	if !models.CanTransition(req.Status, local) {
		// Откат назад или перезапись терминального: не применяем.
		slog.Warn("status drift detected", "request_id", req.ID, "local", req.Status, "remote", local)
		_ = r.repo.TouchChecked(ctx, req.ID, now)
		return Summary{Drift: 1}
	}

	note := res.StatusRaw
	err = r.repo.ApplyTransition(ctx, pgrequests.Transition{
		RequestID:       req.ID,
		From:            req.Status,
		To:              local,
		Source:          models.ChangeSourcePoll,
		Note:            &note,
		CheckedAt:       now,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Конкурентное изменение, заявку увидим в следующем цикле.
			slog.Info("transition conflict, skipping", "request_id", req.ID)
			return Summary{}
		}
		r.setLastError(err)
		slog.Error("apply transition", "request_id", req.ID, "error", err.Error())
		return Summary{Failures: 1}
	}

	out := Summary{Advanced: 1}
	slog.Info("request advanced", "request_id", req.ID, "from", req.Status, "to", local)

	if local == models.RequestStatusCompleted {
		out.Completed = 1
		fresh := *req
		fresh.Status = models.RequestStatusCompleted
		fresh.UpdatedAt = now
		fresh.Version = req.Version + 1
		if err := r.dispatcher.DispatchLoaded(ctx, &fresh, false); err != nil &&
			!errors.Is(err, models.ErrAlreadyNotified) {
			r.setLastError(err)
			slog.Error("dispatch completion", "request_id", req.ID, "error", err.Error())
			out.Failures = 1
		}
	}
	return out
}
