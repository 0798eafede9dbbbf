package main

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/SeerrSync/config"
	"github.com/BearBump/SeerrSync/internal/broker/kafka"
	"github.com/BearBump/SeerrSync/internal/cache/rediscache"
	"github.com/BearBump/SeerrSync/internal/integrations/fulfillment"
	"github.com/BearBump/SeerrSync/internal/integrations/fulfillment/fake"
	"github.com/BearBump/SeerrSync/internal/integrations/fulfillment/jellyseerrhttp"
	"github.com/BearBump/SeerrSync/internal/retry"
	"github.com/BearBump/SeerrSync/internal/scheduler"
	"github.com/BearBump/SeerrSync/internal/services/auditor"
	"github.com/BearBump/SeerrSync/internal/services/health"
	"github.com/BearBump/SeerrSync/internal/services/notify"
	"github.com/BearBump/SeerrSync/internal/services/reconciler"
	"github.com/BearBump/SeerrSync/internal/storage/pgrequests"
)

// watcherStorage объединяет репозиторные выборки, которые нужны фоновым
// задачам watcher-а.
type watcherStorage interface {
	reconciler.Repository
	notify.Repository
	health.Repository
	auditor.Repository
	Ping(ctx context.Context) error
}

type watcherProducer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type watcherFactories struct {
	newStorage           func(cfg *config.Config) (watcherStorage, func(), error)
	newProducer          func(cfg *config.Config) watcherProducer
	newRateLimiter       func(cfg *config.Config) reconciler.RateLimiter
	newFulfillmentClient func(cfg *config.Config) fulfillment.Client
	newRedisPinger       func(cfg *config.Config) func(ctx context.Context) error
}

func defaultWatcherFactories() watcherFactories {
	return watcherFactories{
		newStorage: func(cfg *config.Config) (watcherStorage, func(), error) {
			st, err := pgrequests.New(pgConnString(cfg))
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) watcherProducer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) reconciler.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newFulfillmentClient: newFulfillmentClient,
		newRedisPinger: func(cfg *config.Config) func(ctx context.Context) error {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			rc := rediscache.New(redisAddr)
			return rc.Ping
		},
	}
}

// Пустой base_url или явный флаг включают локальный fake (демо-режим).
func newFulfillmentClient(cfg *config.Config) fulfillment.Client {
	if cfg.SeerrSync.UseFakeFulfillment || cfg.Jellyseerr.BaseURL == "" {
		return fake.New()
	}
	return jellyseerrhttp.New(cfg.Jellyseerr.BaseURL, cfg.Jellyseerr.APIKey)
}

func pgConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func retryPolicy(cfg *config.Config) retry.Policy {
	p := retry.DefaultPolicy()
	if cfg.SeerrSync.RemoteRetryMaxAttempts > 0 {
		p.MaxAttempts = cfg.SeerrSync.RemoteRetryMaxAttempts
	}
	if cfg.SeerrSync.RemoteRetryBaseDelayMillis > 0 {
		p.BaseDelay = time.Duration(cfg.SeerrSync.RemoteRetryBaseDelayMillis) * time.Millisecond
	}
	if cfg.SeerrSync.RemoteRetryMaxDelayMillis > 0 {
		p.MaxDelay = time.Duration(cfg.SeerrSync.RemoteRetryMaxDelayMillis) * time.Millisecond
	}
	if cfg.SeerrSync.RemoteCallTimeoutSeconds > 0 {
		p.AttemptTimeout = time.Duration(cfg.SeerrSync.RemoteCallTimeoutSeconds) * time.Second
	}
	return p
}

// RunWatcher собирает фоновую часть зеркала: реконсилятор, монитор
// здоровья и аудитор под общим планировщиком плюс служебный HTTP.
func RunWatcher(ctx context.Context, cfg *config.Config, f watcherFactories) error {
	completedTopic := cfg.Kafka.CompletedTopicName
	if completedTopic == "" {
		completedTopic = "request.completed"
	}
	alertTopic := cfg.Kafka.ServiceAlertTopicName
	if alertTopic == "" {
		alertTopic = "service.alert"
	}

	reconcileInterval := time.Duration(cfg.SeerrSync.ReconcileIntervalSeconds) * time.Second
	if reconcileInterval <= 0 {
		reconcileInterval = 60 * time.Second
	}
	probeInterval := time.Duration(cfg.SeerrSync.HealthProbeIntervalSeconds) * time.Second
	if probeInterval <= 0 {
		probeInterval = 30 * time.Second
	}
	auditInterval := time.Duration(cfg.SeerrSync.AuditIntervalSeconds) * time.Second
	if auditInterval <= 0 {
		auditInterval = 15 * time.Minute
	}
	concurrency := cfg.SeerrSync.ReconcileConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	rlPerMin := int64(cfg.SeerrSync.ReconcileRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}
	threshold := int32(cfg.SeerrSync.HealthFailureThreshold)
	if threshold <= 0 {
		threshold = 3
	}
	probeTimeout := time.Duration(cfg.SeerrSync.HealthProbeTimeoutSeconds) * time.Second
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	client := f.newFulfillmentClient(cfg)
	rl := f.newRateLimiter(cfg)
	policy := retryPolicy(cfg)

	dispatcher := notify.New(st, producer, completedTopic)
	rec := reconciler.New(st, client, dispatcher, rl).
		WithSettings(concurrency, rlPerMin, policy)
	aud := auditor.New(st, client).WithRetryPolicy(policy)

	monitor := health.New(st, producer, alertTopic, threshold, probeTimeout)
	monitor.Register("fulfillment", client.Probe)
	monitor.Register("postgres", st.Ping)
	if f.newRedisPinger != nil {
		monitor.Register("redis", f.newRedisPinger(cfg))
	}

	sched := scheduler.New()
	if err := sched.Register("reconcile", reconcileInterval, func(ctx context.Context) error {
		_, err := rec.ReconcileActive(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := sched.Register("health-probe", probeInterval, func(ctx context.Context) error {
		return monitor.ProbeAll(ctx)
	}); err != nil {
		return err
	}
	if err := sched.Register("audit", auditInterval, func(ctx context.Context) error {
		_, err := aud.Audit(ctx)
		return err
	}); err != nil {
		return err
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWatcherHTTPServer(ctx, watcherHTTPOpts{
			httpAddr: cfg.SeerrSync.WatcherHTTPAddr,
			sched:    sched,
			rec:      rec,
			cfg:      cfg,
		})
	}()

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- sched.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		<-schedErr // дожидаемся кооперативной остановки задач
		return ctx.Err()
	case err := <-httpErr:
		if ctx.Err() != nil {
			<-schedErr
			return ctx.Err()
		}
		return err
	}
}
