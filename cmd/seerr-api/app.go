package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	requestsapi "github.com/BearBump/SeerrSync/internal/api/requests_api"
	"github.com/BearBump/SeerrSync/internal/notifier"
	"github.com/BearBump/SeerrSync/internal/services/auditor"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type seerrAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string
	webhookURL    string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runSeerrAPI(ctx context.Context, opts seerrAPIOpts, svc requestsapi.Service, state requestsapi.StateReader, consumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	requestsapi.New(svc, state, auditor.LastReportKey).Mount(r)

	// Мост уведомлений: completion-сообщения из Kafka уходят в webhook.
	// Без webhook_url мост не поднимаем, сообщения остаются в топике.
	if opts.webhookURL != "" && consumer != nil {
		bridge := notifier.NewBridge(notifier.NewWebhookSender(opts.webhookURL, 10*time.Second))
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			if err := consumer.Consume(ctx, func(key, value []byte) error {
				return bridge.Handle(ctx, key, value)
			}); err != nil && ctx.Err() == nil {
				slog.Error("kafka consumer stopped", "error", err.Error())
			}
		}()
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- srv.Serve(lis)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}
