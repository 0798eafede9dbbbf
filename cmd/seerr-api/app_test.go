package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeService struct{}

func (fakeService) CreateTracked(ctx context.Context, in models.RequestCreateInput, mediaID uint64) (*models.Request, error) {
	return &models.Request{ID: 1}, nil
}
func (fakeService) GetRequest(ctx context.Context, id uint64) (*models.Request, error) {
	return nil, models.ErrRequestNotFound
}
func (fakeService) ListByUser(ctx context.Context, userID string, statusFilter string) ([]*models.Request, error) {
	return []*models.Request{}, nil
}
func (fakeService) ListEvents(ctx context.Context, requestID uint64, limit, offset int) ([]*models.StatusChangeEvent, error) {
	return []*models.StatusChangeEvent{}, nil
}
func (fakeService) Stats(ctx context.Context, period string) (map[string]int64, error) {
	return map[string]int64{}, nil
}
func (fakeService) ForceNotify(ctx context.Context, id uint64) error { return nil }
func (fakeService) CancelTracked(ctx context.Context, id uint64, userID string) error {
	return nil
}
func (fakeService) ResolveAnomaly(ctx context.Context, id uint64) (*models.Request, error) {
	return nil, models.ErrNotAnomalous
}

type fakeState struct{}

func (fakeState) ListServiceHealth(ctx context.Context) ([]*models.ServiceHealth, error) {
	return []*models.ServiceHealth{}, nil
}
func (fakeState) GetSetting(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}

type fakeConsumer struct{}

func (fakeConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunSeerrAPI_SwaggerAndRoutesServed(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := seerrAPIOpts{
		httpAddr:      "127.0.0.1:0",
		swaggerPath:   sw,
		topic:         "request.completed",
		consumerGroup: "g",
		webhookURL:    "http://localhost:1/hook",
		onListen:      func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runSeerrAPI(ctx, opts, fakeService{}, fakeState{}, fakeConsumer{})
	}()

	httpAddr := <-addrCh

	resp, err := http.Get("http://" + httpAddr + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, string(body), "\"swagger\"")

	resp, err = http.Get("http://" + httpAddr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	// Доменная ручка смонтирована и отвечает доменной ошибкой.
	resp, err = http.Get("http://" + httpAddr + "/v1/requests/42")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting server to stop")
	case err := <-errCh:
		require.Error(t, err)
	}
}

func TestRunSeerrAPI_MissingSwagger(t *testing.T) {
	err := runSeerrAPI(context.Background(), seerrAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: "/nonexistent/swagger.json",
	}, fakeService{}, fakeState{}, nil)
	require.Error(t, err)
}
