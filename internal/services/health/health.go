package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BearBump/SeerrSync/internal/broker/messages"
	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	GetServiceHealth(ctx context.Context, serviceName string) (*models.ServiceHealth, error)
	UpsertServiceHealth(ctx context.Context, h models.ServiceHealth) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Prober — лёгкая проверка живости одной зависимости, без побочных эффектов.
type Prober func(ctx context.Context) error

// Monitor ведёт счётчики здоровья зависимостей с гистерезисом:
// нездоровым сервис становится после threshold фейлов подряд, здоровым —
// после первого же успеха. Алерт уходит ровно на границе перехода.
type Monitor struct {
	repo      Repository
	producer  Producer
	topic     string
	threshold int32
	timeout   time.Duration

	probers map[string]Prober
}

func New(repo Repository, producer Producer, topic string, threshold int32, timeout time.Duration) *Monitor {
	if threshold <= 0 {
		threshold = 3
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		repo:      repo,
		producer:  producer,
		topic:     topic,
		threshold: threshold,
		timeout:   timeout,
		probers:   map[string]Prober{},
	}
}

func (m *Monitor) Register(name string, p Prober) {
	m.probers[name] = p
}

// Probe прогоняет одну проверку и обновляет её запись в хранилище.
func (m *Monitor) Probe(ctx context.Context, name string) (*models.ServiceHealth, error) {
	p, ok := m.probers[name]
	if !ok {
		return nil, errors.Errorf("unknown service %q", name)
	}

	prev, err := m.repo.GetServiceHealth(ctx, name)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		// Запись заводится лениво, до первого пробинга сервис считается здоровым.
		prev = &models.ServiceHealth{ServiceName: name, Healthy: true}
	}

	now := time.Now().UTC()
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	probeErr := p(probeCtx)
	cancel()

	next := *prev
	next.LastCheckedAt = now

	if probeErr != nil {
		e := probeErr.Error()
		next.LastError = &e
		next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		next.ConsecutiveSuccesses = 0
		// Алертим ровно при пересечении порога, не на каждом фейле.
		if prev.Healthy && next.ConsecutiveFailures >= m.threshold {
			next.Healthy = false
			m.alert(ctx, next, messages.AlertKindDown)
		}
	} else {
		next.LastError = nil
		next.ConsecutiveFailures = 0
		next.ConsecutiveSuccesses = prev.ConsecutiveSuccesses + 1
		next.LastHealthyAt = &now
		if !prev.Healthy {
			next.Healthy = true
			m.alert(ctx, next, messages.AlertKindRecovered)
		}
	}

	if err := m.repo.UpsertServiceHealth(ctx, next); err != nil {
		return nil, errors.Wrap(err, "upsert service health")
	}
	return &next, nil
}

// ProbeAll прогоняет все зарегистрированные проверки; падение одной не
// мешает остальным.
func (m *Monitor) ProbeAll(ctx context.Context) error {
	names := make([]string, 0, len(m.probers))
	for name := range m.probers {
		names = append(names, name)
	}
	sort.Strings(names)

	var firstErr error
	for _, name := range names {
		if _, err := m.Probe(ctx, name); err != nil {
			slog.Error("probe service", "service", name, "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Monitor) alert(ctx context.Context, h models.ServiceHealth, kind string) {
	if kind == messages.AlertKindDown {
		slog.Error("service unhealthy", "service", h.ServiceName, "failures", h.ConsecutiveFailures)
	} else {
		slog.Info("service recovered", "service", h.ServiceName)
	}

	if m.producer == nil {
		return
	}
	msg := messages.ServiceAlert{
		ServiceName:         h.ServiceName,
		Kind:                kind,
		ConsecutiveFailures: h.ConsecutiveFailures,
		LastError:           h.LastError,
		At:                  h.LastCheckedAt,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal service alert", "error", err.Error())
		return
	}
	key := []byte(fmt.Sprintf("health:%s", h.ServiceName))
	if err := m.producer.Publish(ctx, m.topic, key, b); err != nil {
		// Алерт best-effort: состояние в БД важнее доставки сообщения.
		slog.Error("publish service alert", "service", h.ServiceName, "error", err.Error())
	}
}
