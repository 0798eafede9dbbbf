package pgrequests

import (
	"context"
	"time"

	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const requestColumns = `
  id, external_id, user_id, media_kind, title, year, season_episode,
  status, created_at, updated_at, last_checked_at,
  notified, notified_at, check_fail_count, last_error, version
`

func scanRequest(row pgx.Row) (*models.Request, error) {
	var r models.Request
	if err := row.Scan(
		&r.ID, &r.ExternalID, &r.UserID, &r.MediaKind, &r.Title, &r.Year, &r.SeasonEpisode,
		&r.Status, &r.CreatedAt, &r.UpdatedAt, &r.LastCheckedAt,
		&r.Notified, &r.NotifiedAt, &r.CheckFailCount, &r.LastError, &r.Version,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Storage) CreateRequest(ctx context.Context, in models.RequestCreateInput) (*models.Request, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
INSERT INTO requests (
  external_id, user_id, media_kind, title, year, season_episode,
  status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
RETURNING `+requestColumns,
		in.ExternalID, in.UserID, in.MediaKind, in.Title, in.Year, in.SeasonEpisode,
		models.RequestStatusPending, now)

	r, err := scanRequest(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, models.ErrDuplicateRequest
		}
		return nil, errors.Wrap(err, "insert request")
	}

	// Стартовый статус тоже попадает в историю.
	_, err = tx.Exec(ctx, `
INSERT INTO request_events (request_id, from_status, to_status, changed_at, source)
VALUES ($1, '', $2, $3, $4)
`, r.ID, models.RequestStatusPending, now, models.ChangeSourceManual)
	if err != nil {
		return nil, errors.Wrap(err, "insert initial event")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return r, nil
}

func (s *Storage) GetRequest(ctx context.Context, id uint64) (*models.Request, error) {
	row := s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrRequestNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select request")
	}
	return r, nil
}

func (s *Storage) GetActiveByExternalID(ctx context.Context, externalID uint64) (*models.Request, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+requestColumns+`
FROM requests
WHERE external_id = $1
  AND status NOT IN ($2,$3,$4)
`, externalID, models.RequestStatusCompleted, models.RequestStatusDeclined, models.RequestStatusCancelled)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrRequestNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select request by external id")
	}
	return r, nil
}

// ListActive возвращает заявки, подлежащие автоматическому опросу.
// ANOMALOUS исключён: такие заявки заморожены до ручного разбора.
func (s *Storage) ListActive(ctx context.Context) ([]*models.Request, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+requestColumns+`
FROM requests
WHERE status NOT IN ($1,$2,$3,$4)
ORDER BY last_checked_at ASC NULLS FIRST
`, models.RequestStatusCompleted, models.RequestStatusDeclined, models.RequestStatusCancelled, models.RequestStatusAnomalous)
	if err != nil {
		return nil, errors.Wrap(err, "select active requests")
	}
	defer rows.Close()

	return collectRequests(rows)
}

func (s *Storage) ListByUser(ctx context.Context, userID string, statusFilter string) ([]*models.Request, error) {
	var rows pgx.Rows
	var err error
	if statusFilter == "" {
		rows, err = s.db.Query(ctx, `
SELECT `+requestColumns+` FROM requests WHERE user_id = $1 ORDER BY created_at DESC
`, userID)
	} else {
		rows, err = s.db.Query(ctx, `
SELECT `+requestColumns+` FROM requests WHERE user_id = $1 AND status = $2 ORDER BY created_at DESC
`, userID, statusFilter)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select requests by user")
	}
	defer rows.Close()

	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]*models.Request, error) {
	out := []*models.Request{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan request")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

type Transition struct {
	RequestID       uint64
	From            string
	To              string
	Source          string
	Note            *string
	CheckedAt       time.Time
	ExpectedVersion int64
}

// ApplyTransition атомарно меняет статус и дописывает событие в историю.
// Несовпадение версии строки — ErrConflict: кто-то успел раньше, вызывающий
// перечитывает запись и решает сам.
func (s *Storage) ApplyTransition(ctx context.Context, tr Transition) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
UPDATE requests
SET
  status = $2,
  updated_at = now(),
  last_checked_at = $3,
  check_fail_count = 0,
  last_error = NULL,
  version = version + 1
WHERE id = $1 AND version = $4
`, tr.RequestID, tr.To, tr.CheckedAt.UTC(), tr.ExpectedVersion)
	if err != nil {
		return errors.Wrap(err, "update request status")
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.GetRequest(ctx, tr.RequestID); err != nil {
			return err
		}
		return models.ErrConflict
	}

	_, err = tx.Exec(ctx, `
INSERT INTO request_events (request_id, from_status, to_status, changed_at, source, note)
VALUES ($1,$2,$3,$4,$5,$6)
`, tr.RequestID, tr.From, tr.To, tr.CheckedAt.UTC(), tr.Source, tr.Note)
	if err != nil {
		return errors.Wrap(err, "insert request event")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) TouchChecked(ctx context.Context, id uint64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE requests
SET last_checked_at = $2, check_fail_count = 0, last_error = NULL
WHERE id = $1
`, id, at.UTC())
	return errors.Wrap(err, "touch checked")
}

func (s *Storage) RecordCheckFailure(ctx context.Context, id uint64, at time.Time, errMsg string) error {
	_, err := s.db.Exec(ctx, `
UPDATE requests
SET last_checked_at = $2, check_fail_count = check_fail_count + 1, last_error = $3
WHERE id = $1
`, id, at.UTC(), errMsg)
	return errors.Wrap(err, "record check failure")
}

// MarkNotified выставляет флаг доставки. Для автоматического dispatch
// allowRenotify=false: флаг поднимается не больше одного раза. Форс-отправка
// проходит с allowRenotify=true и лишь обновляет notified_at.
func (s *Storage) MarkNotified(ctx context.Context, id uint64, at time.Time, expectedVersion int64, allowRenotify bool) error {
	ct, err := s.db.Exec(ctx, `
UPDATE requests
SET notified = TRUE, notified_at = $2, updated_at = now(), version = version + 1
WHERE id = $1
  AND version = $3
  AND status = $4
  AND (NOT notified OR $5)
`, id, at.UTC(), expectedVersion, models.RequestStatusCompleted, allowRenotify)
	if err != nil {
		return errors.Wrap(err, "mark notified")
	}
	if ct.RowsAffected() == 0 {
		r, err := s.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case r.Status != models.RequestStatusCompleted:
			return models.ErrNotCompleted
		case r.Notified && !allowRenotify:
			return models.ErrAlreadyNotified
		default:
			return models.ErrConflict
		}
	}
	return nil
}
