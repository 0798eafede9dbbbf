package pgrequests

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS requests (
  id BIGSERIAL PRIMARY KEY,
  external_id BIGINT NOT NULL,
  user_id TEXT NOT NULL,
  media_kind TEXT NOT NULL,
  title TEXT NOT NULL,
  year TEXT NULL,
  season_episode TEXT NULL,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  last_checked_at TIMESTAMPTZ NULL,
  notified BOOLEAN NOT NULL DEFAULT FALSE,
  notified_at TIMESTAMPTZ NULL,
  check_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  version BIGINT NOT NULL DEFAULT 1,
  CHECK (NOT notified OR status = 'COMPLETED')
)`,
		// external_id уникален только среди "живых" заявок: терминальные
		// остаются в истории и не мешают новой заявке на тот же контент.
		`
CREATE UNIQUE INDEX IF NOT EXISTS uq_requests_external_id_active
  ON requests(external_id)
  WHERE status NOT IN ('COMPLETED','DECLINED','CANCELLED')`,
		`CREATE INDEX IF NOT EXISTS idx_requests_user_id ON requests(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status)`,
		`
CREATE TABLE IF NOT EXISTS request_events (
  id BIGSERIAL PRIMARY KEY,
  request_id BIGINT NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
  from_status TEXT NOT NULL DEFAULT '',
  to_status TEXT NOT NULL,
  changed_at TIMESTAMPTZ NOT NULL,
  source TEXT NOT NULL,
  note TEXT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_request_events_request_changed ON request_events(request_id, changed_at)`,
		`
CREATE TABLE IF NOT EXISTS service_health (
  service_name TEXT PRIMARY KEY,
  healthy BOOLEAN NOT NULL DEFAULT TRUE,
  consecutive_failures INT NOT NULL DEFAULT 0,
  consecutive_successes INT NOT NULL DEFAULT 0,
  last_checked_at TIMESTAMPTZ NOT NULL,
  last_healthy_at TIMESTAMPTZ NULL,
  last_error TEXT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
