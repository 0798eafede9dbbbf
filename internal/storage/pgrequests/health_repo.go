package pgrequests

import (
	"context"

	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// GetServiceHealth возвращает nil без ошибки, если записи ещё нет:
// запись создаётся лениво первой пробой.
func (s *Storage) GetServiceHealth(ctx context.Context, serviceName string) (*models.ServiceHealth, error) {
	row := s.db.QueryRow(ctx, `
SELECT service_name, healthy, consecutive_failures, consecutive_successes,
       last_checked_at, last_healthy_at, last_error
FROM service_health
WHERE service_name = $1
`, serviceName)

	var h models.ServiceHealth
	err := row.Scan(healthDest(&h)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select service health")
	}
	return &h, nil
}

func healthDest(h *models.ServiceHealth) []any {
	return []any{
		&h.ServiceName, &h.Healthy, &h.ConsecutiveFailures, &h.ConsecutiveSuccesses,
		&h.LastCheckedAt, &h.LastHealthyAt, &h.LastError,
	}
}

func (s *Storage) UpsertServiceHealth(ctx context.Context, h models.ServiceHealth) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO service_health (
  service_name, healthy, consecutive_failures, consecutive_successes,
  last_checked_at, last_healthy_at, last_error
)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (service_name) DO UPDATE SET
  healthy = EXCLUDED.healthy,
  consecutive_failures = EXCLUDED.consecutive_failures,
  consecutive_successes = EXCLUDED.consecutive_successes,
  last_checked_at = EXCLUDED.last_checked_at,
  last_healthy_at = EXCLUDED.last_healthy_at,
  last_error = EXCLUDED.last_error
`, h.ServiceName, h.Healthy, h.ConsecutiveFailures, h.ConsecutiveSuccesses,
		h.LastCheckedAt.UTC(), h.LastHealthyAt, h.LastError)
	return errors.Wrap(err, "upsert service health")
}

func (s *Storage) ListServiceHealth(ctx context.Context) ([]*models.ServiceHealth, error) {
	rows, err := s.db.Query(ctx, `
SELECT service_name, healthy, consecutive_failures, consecutive_successes,
       last_checked_at, last_healthy_at, last_error
FROM service_health
ORDER BY service_name
`)
	if err != nil {
		return nil, errors.Wrap(err, "select service health list")
	}
	defer rows.Close()

	var out []*models.ServiceHealth
	for rows.Next() {
		var h models.ServiceHealth
		if err := rows.Scan(healthDest(&h)...); err != nil {
			return nil, errors.Wrap(err, "scan service health")
		}
		out = append(out, &h)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
