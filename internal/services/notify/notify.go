package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/SeerrSync/internal/broker/messages"
	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	GetRequest(ctx context.Context, id uint64) (*models.Request, error)
	MarkNotified(ctx context.Context, id uint64, at time.Time, expectedVersion int64, allowRenotify bool) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Dispatcher публикует уведомление о завершённой заявке ровно один раз:
// сначала Kafka, потом пометка notified с проверкой версии. Если пометка
// не прошла (конкурент успел раньше), дубль в топике возможен, потеря — нет.
type Dispatcher struct {
	repo     Repository
	producer Producer
	topic    string
}

func New(repo Repository, producer Producer, topic string) *Dispatcher {
	return &Dispatcher{repo: repo, producer: producer, topic: topic}
}

// Dispatch шлёт уведомление для заявки id. force используется ручной
// ручкой: позволяет повторную отправку уже помеченной заявки.
func (d *Dispatcher) Dispatch(ctx context.Context, id uint64, force bool) error {
	req, err := d.repo.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	return d.DispatchLoaded(ctx, req, force)
}

// DispatchLoaded — вариант для реконсилятора, у которого заявка уже на руках.
func (d *Dispatcher) DispatchLoaded(ctx context.Context, req *models.Request, force bool) error {
	if req.Status != models.RequestStatusCompleted {
		return models.ErrNotCompleted
	}
	if req.Notified && !force {
		return models.ErrAlreadyNotified
	}

	now := time.Now().UTC()
	msg := messages.RequestCompleted{
		RequestID:      req.ID,
		ExternalID:     req.ExternalID,
		UserID:         req.UserID,
		MediaKind:      req.MediaKind,
		Title:          req.Title,
		Year:           req.Year,
		SeasonEpisode:  req.SeasonEpisode,
		CompletedAt:    req.UpdatedAt,
		ElapsedSeconds: int64(req.UpdatedAt.Sub(req.CreatedAt).Seconds()),
		Forced:         force,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}

	key := []byte(fmt.Sprintf("%d", req.ID))
	if err := d.producer.Publish(ctx, d.topic, key, b); err != nil {
		return errors.Wrap(err, "publish notification")
	}

	if err := d.repo.MarkNotified(ctx, req.ID, now, req.Version, force); err != nil {
		// Конкурент пометил первым: сообщение уже ушло, это не потеря.
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrAlreadyNotified) {
			slog.Warn("notification already marked concurrently", "request_id", req.ID)
			return nil
		}
		return err
	}

	slog.Info("notification dispatched", "request_id", req.ID, "forced", force)
	return nil
}
