package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Jellyseerr JellyseerrConfig `yaml:"jellyseerr"`
	SeerrSync  SeerrSyncConfig  `yaml:"seerrsync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	CompletedTopicName    string `yaml:"request_completed_topic_name"`
	ServiceAlertTopicName string `yaml:"service_alert_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type JellyseerrConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type SeerrSyncConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	SwaggerPath        string `yaml:"swagger_path"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	WebhookURL         string `yaml:"webhook_url"`

	CurrentStatusTTLSeconds int `yaml:"current_status_ttl_seconds"`

	// Watcher scheduling. Defaults are applied in cmd/seerr-watcher when zero.
	WatcherHTTPAddr             string `yaml:"watcher_http_addr"`
	ReconcileIntervalSeconds    int    `yaml:"reconcile_interval_seconds"`
	HealthProbeIntervalSeconds  int    `yaml:"health_probe_interval_seconds"`
	AuditIntervalSeconds        int    `yaml:"audit_interval_seconds"`
	ReconcileConcurrency        int    `yaml:"reconcile_concurrency"`
	ReconcileRateLimitPerMinute int    `yaml:"reconcile_rate_limit_per_minute"`
	HealthFailureThreshold      int    `yaml:"health_failure_threshold"`
	HealthProbeTimeoutSeconds   int    `yaml:"health_probe_timeout_seconds"`

	// Retry policy for outbound fulfillment calls.
	RemoteRetryMaxAttempts     int `yaml:"remote_retry_max_attempts"`
	RemoteRetryBaseDelayMillis int `yaml:"remote_retry_base_delay_millis"`
	RemoteRetryMaxDelayMillis  int `yaml:"remote_retry_max_delay_millis"`
	RemoteCallTimeoutSeconds   int `yaml:"remote_call_timeout_seconds"`

	// Пустой base_url у jellyseerr включает локальный fake-клиент (демо-режим).
	UseFakeFulfillment bool `yaml:"use_fake_fulfillment"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
