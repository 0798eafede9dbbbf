package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/SeerrSync/config"
	"github.com/BearBump/SeerrSync/internal/broker/kafka"
	"github.com/BearBump/SeerrSync/internal/cache/rediscache"
	"github.com/BearBump/SeerrSync/internal/integrations/fulfillment"
	"github.com/BearBump/SeerrSync/internal/integrations/fulfillment/fake"
	"github.com/BearBump/SeerrSync/internal/integrations/fulfillment/jellyseerrhttp"
	"github.com/BearBump/SeerrSync/internal/services/notify"
	"github.com/BearBump/SeerrSync/internal/services/requests"
	"github.com/BearBump/SeerrSync/internal/storage/pgrequests"
)

type seerrAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     seerrAPIOpts
	svc      *requests.Service
	state    *pgrequests.Storage
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapSeerrAPI() *seerrAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		swaggerPath = cfg.SeerrSync.SwaggerPath
	}
	if swaggerPath == "" {
		swaggerPath = "api/swagger.json"
	}

	httpAddr := cfg.SeerrSync.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.SeerrSync.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "seerr-api"
	}
	topic := cfg.Kafka.CompletedTopicName
	if topic == "" {
		topic = "request.completed"
	}
	cacheTTL := time.Duration(cfg.SeerrSync.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	var client fulfillment.Client
	if cfg.SeerrSync.UseFakeFulfillment || cfg.Jellyseerr.BaseURL == "" {
		client = fake.New()
	} else {
		client = jellyseerrhttp.New(cfg.Jellyseerr.BaseURL, cfg.Jellyseerr.APIKey)
	}

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	dispatcher := notify.New(st, producer, topic)

	svc := requests.New(st, client, dispatcher, rc, cacheTTL)

	var consumer *kafka.Consumer
	if cfg.SeerrSync.WebhookURL != "" {
		consumer = kafka.NewConsumer(brokers, topic, consumerGroup)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &seerrAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: seerrAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
			webhookURL:    cfg.SeerrSync.WebhookURL,
		},
		svc:      svc,
		state:    st,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgrequests.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgrequests.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *seerrAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *seerrAPIApp) Run() error {
	// Не передаём typed-nil указатель в интерфейс.
	var consumer kafkaConsumer
	if a.consumer != nil {
		consumer = a.consumer
	}
	return runSeerrAPI(a.ctx, a.opts, a.svc, a.state, consumer)
}
