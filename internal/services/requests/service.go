package requests

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/SeerrSync/internal/cache"
	"github.com/BearBump/SeerrSync/internal/integrations/fulfillment"
	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/BearBump/SeerrSync/internal/storage/pgrequests"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateRequest(ctx context.Context, in models.RequestCreateInput) (*models.Request, error)
	GetRequest(ctx context.Context, id uint64) (*models.Request, error)
	ListByUser(ctx context.Context, userID string, statusFilter string) ([]*models.Request, error)
	ListEvents(ctx context.Context, requestID uint64, limit, offset int) ([]*models.StatusChangeEvent, error)
	Stats(ctx context.Context, since time.Time) (map[string]int64, error)
	ApplyTransition(ctx context.Context, tr pgrequests.Transition) error
	GetActiveByExternalID(ctx context.Context, externalID uint64) (*models.Request, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, id uint64, force bool) error
}

// Service — пользовательская сторона зеркала: создание заявок, чтение,
// ручные операции. Сам опрос живёт в reconciler/auditor.
type Service struct {
	repo       Repository
	client     fulfillment.Client
	dispatcher Dispatcher
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, client fulfillment.Client, dispatcher Dispatcher, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, client: client, dispatcher: dispatcher, cache: c, currentTTL: currentTTL}
}

// CreateTracked регистрирует заявку в зеркале. Если externalID не передан,
// заявка сначала создаётся на удалённой стороне (mediaID обязателен).
func (s *Service) CreateTracked(ctx context.Context, in models.RequestCreateInput, mediaID uint64) (*models.Request, error) {
	if in.UserID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "userId is required")
	}
	if !models.IsValidMediaKind(in.MediaKind) {
		return nil, errors.Wrapf(models.ErrInvalidInput, "unknown media kind %q", in.MediaKind)
	}
	if in.Title == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "title is required")
	}

	// Активный дубликат по переданному externalID отсекаем до записи;
	// гонку всё равно закрывает уникальный индекс в CreateRequest.
	if in.ExternalID != 0 {
		if _, err := s.repo.GetActiveByExternalID(ctx, in.ExternalID); err == nil {
			return nil, models.ErrDuplicateRequest
		} else if !errors.Is(err, models.ErrRequestNotFound) {
			return nil, err
		}
	}

	if in.ExternalID == 0 {
		if mediaID == 0 {
			return nil, errors.Wrap(models.ErrInvalidInput, "externalId or mediaId is required")
		}
		created, err := s.client.CreateRequest(ctx, mediaID, in.MediaKind)
		if err != nil {
			return nil, errors.Wrap(err, "create remote request")
		}
		in.ExternalID = created.ExternalID
		if created.Title != "" {
			in.Title = created.Title
		}
		if created.Year != nil {
			in.Year = created.Year
		}
	}

	req, err := s.repo.CreateRequest(ctx, in)
	if err != nil {
		return nil, err
	}
	s.cacheCurrent(ctx, req)
	slog.Info("request tracked", "request_id", req.ID, "external_id", req.ExternalID, "user_id", req.UserID)
	return req, nil
}

// GetRequest читает заявку, сперва пробуя кэш текущего состояния.
// Кэш best-effort: его отсутствие не ошибка.
func (s *Service) GetRequest(ctx context.Context, id uint64) (*models.Request, error) {
	if id == 0 {
		return nil, models.ErrRequestNotFound
	}
	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(id)); err == nil && ok {
			var r models.Request
			if json.Unmarshal(b, &r) == nil {
				return &r, nil
			}
		}
	}

	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheCurrent(ctx, req)
	return req, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string, statusFilter string) ([]*models.Request, error) {
	if userID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "userId is required")
	}
	return s.repo.ListByUser(ctx, userID, statusFilter)
}

func (s *Service) ListEvents(ctx context.Context, requestID uint64, limit, offset int) ([]*models.StatusChangeEvent, error) {
	if requestID == 0 {
		return nil, models.ErrRequestNotFound
	}
	if _, err := s.repo.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, requestID, limit, offset)
}

// Stats агрегирует количество заявок по статусам за период.
func (s *Service) Stats(ctx context.Context, period string) (map[string]int64, error) {
	now := time.Now().UTC()
	var since time.Time
	switch period {
	case "day":
		since = now.AddDate(0, 0, -1)
	case "week":
		since = now.AddDate(0, 0, -7)
	case "month":
		since = now.AddDate(0, -1, 0)
	case "", "all":
		// нулевой since — без нижней границы
	default:
		return nil, errors.Wrapf(models.ErrInvalidInput, "unknown period %q", period)
	}
	return s.repo.Stats(ctx, since)
}

// ForceNotify повторно шлёт уведомление о завершённой заявке.
func (s *Service) ForceNotify(ctx context.Context, id uint64) error {
	if id == 0 {
		return models.ErrRequestNotFound
	}
	if err := s.dispatcher.Dispatch(ctx, id, true); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// CancelTracked отменяет заявку: сначала на удалённой стороне, потом
// локальный переход в CANCELLED с source=manual. userID сверяется с
// владельцем, пустой userID — административная отмена.
func (s *Service) CancelTracked(ctx context.Context, id uint64, userID string) error {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if userID != "" && req.UserID != userID {
		return models.ErrRequestNotFound
	}
	if !models.CanTransition(req.Status, models.RequestStatusCancelled) {
		return models.ErrInvalidTransition
	}

	if err := s.client.CancelRequest(ctx, req.ExternalID); err != nil &&
		!errors.Is(err, fulfillment.ErrNotFound) {
		return errors.Wrap(err, "cancel remote request")
	}

	note := "cancelled by user"
	err = s.repo.ApplyTransition(ctx, pgrequests.Transition{
		RequestID:       req.ID,
		From:            req.Status,
		To:              models.RequestStatusCancelled,
		Source:          models.ChangeSourceManual,
		Note:            &note,
		CheckedAt:       time.Now().UTC(),
		ExpectedVersion: req.Version,
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, id)
	slog.Info("request cancelled", "request_id", id, "user_id", userID)
	return nil
}

// ResolveAnomaly возвращает замороженную заявку в опрос: перечитывает
// удалённый статус и выставляет его вручную.
func (s *Service) ResolveAnomaly(ctx context.Context, id uint64) (*models.Request, error) {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestStatusAnomalous {
		return nil, models.ErrNotAnomalous
	}

	res, err := s.client.FetchStatus(ctx, req.ExternalID)
	var to string
	var note string
	switch {
	case errors.Is(err, fulfillment.ErrNotFound):
		to = models.RequestStatusCancelled
		note = "resolved: remote counterpart gone"
	case err != nil:
		return nil, errors.Wrap(err, "fetch remote status")
	default:
		local, ok := models.MapRemoteStatus(res.Status)
		if !ok {
			// Статус всё ещё незнакомый, оставляем заморозку.
			return nil, errors.Errorf("remote status %q still unmapped", res.Status)
		}
		to = local
		note = "resolved manually, remote " + res.StatusRaw
	}

	err = s.repo.ApplyTransition(ctx, pgrequests.Transition{
		RequestID:       req.ID,
		From:            req.Status,
		To:              to,
		Source:          models.ChangeSourceManual,
		Note:            &note,
		CheckedAt:       time.Now().UTC(),
		ExpectedVersion: req.Version,
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	slog.Info("anomaly resolved", "request_id", id, "to", to)
	return s.repo.GetRequest(ctx, id)
}

func (s *Service) cacheCurrent(ctx context.Context, req *models.Request) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	b, err := json.Marshal(req)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, currentKey(req.ID), b, s.currentTTL)
}

func (s *Service) invalidate(ctx context.Context, id uint64) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	// Перечитаем свежую запись из БД, TTL короткий.
	if req, err := s.repo.GetRequest(ctx, id); err == nil {
		s.cacheCurrent(ctx, req)
	}
}

func currentKey(id uint64) string {
	return fmt.Sprintf("request:%d:current", id)
}
