package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  request_completed_topic_name: "request.completed"
  service_alert_topic_name: "service.alert"
redis:
  host: "localhost"
  port: 6379
jellyseerr:
  base_url: "http://jellyseerr:5055"
  api_key: "secret"
seerrsync:
  http_addr: ":8080"
  kafka_consumer_group: "seerr-api"
  current_status_ttl_seconds: 600
  reconcile_interval_seconds: 30
  health_failure_threshold: 3
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "request.completed", cfg.Kafka.CompletedTopicName)
	require.Equal(t, "service.alert", cfg.Kafka.ServiceAlertTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, "http://jellyseerr:5055", cfg.Jellyseerr.BaseURL)
	require.Equal(t, ":8080", cfg.SeerrSync.HTTPAddr)
	require.Equal(t, 30, cfg.SeerrSync.ReconcileIntervalSeconds)
	require.Equal(t, 3, cfg.SeerrSync.HealthFailureThreshold)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
