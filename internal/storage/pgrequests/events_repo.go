package pgrequests

import (
	"context"
	"time"

	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/pkg/errors"
)

func (s *Storage) ListEvents(ctx context.Context, requestID uint64, limit, offset int) ([]*models.StatusChangeEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, request_id, from_status, to_status, changed_at, source, note
FROM request_events
WHERE request_id = $1
ORDER BY changed_at ASC, id ASC
LIMIT $2 OFFSET $3
`, requestID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.StatusChangeEvent
	for rows.Next() {
		var e models.StatusChangeEvent
		if err := rows.Scan(&e.ID, &e.RequestID, &e.From, &e.To, &e.ChangedAt, &e.Source, &e.Note); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// Stats — агрегаты по статусам начиная с since (нулевое since = за всё время).
func (s *Storage) Stats(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `
SELECT status, count(*)
FROM requests
WHERE created_at >= $1
GROUP BY status
`, since.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "select stats")
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "scan stats")
		}
		out[status] = n
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
