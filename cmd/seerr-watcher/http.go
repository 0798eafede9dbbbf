package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/SeerrSync/config"
	"github.com/BearBump/SeerrSync/internal/scheduler"
	"github.com/BearBump/SeerrSync/internal/services/reconciler"
	"github.com/go-chi/chi/v5"
)

type watcherHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	sched *scheduler.Scheduler
	rec   *reconciler.Reconciler
	cfg   *config.Config
}

func runWatcherHTTPServer(ctx context.Context, opts watcherHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
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
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		out := map[string]any{}
		if opts.sched != nil {
			out["tasks"] = opts.sched.Stats()
		}
		if opts.rec != nil {
			out["reconciler"] = opts.rec.Stats()
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Секреты не выдаём, только операционные настройки.
		out := map[string]any{
			"reconcileIntervalSeconds":    opts.cfg.SeerrSync.ReconcileIntervalSeconds,
			"healthProbeIntervalSeconds":  opts.cfg.SeerrSync.HealthProbeIntervalSeconds,
			"auditIntervalSeconds":        opts.cfg.SeerrSync.AuditIntervalSeconds,
			"reconcileConcurrency":        opts.cfg.SeerrSync.ReconcileConcurrency,
			"reconcileRateLimitPerMinute": opts.cfg.SeerrSync.ReconcileRateLimitPerMinute,
			"healthFailureThreshold":      opts.cfg.SeerrSync.HealthFailureThreshold,
			"healthProbeTimeoutSeconds":   opts.cfg.SeerrSync.HealthProbeTimeoutSeconds,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/trigger/{task}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.sched == nil {
			_, _ = w.Write([]byte(`{"error":"scheduler not wired"}`))
			return
		}
		task := chi.URLParam(r, "task")
		if !opts.sched.Trigger(task) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"unknown task"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"triggered": task})
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
