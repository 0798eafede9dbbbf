package requests_api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/SeerrSync/internal/integrations/fulfillment"
	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type Service interface {
	CreateTracked(ctx context.Context, in models.RequestCreateInput, mediaID uint64) (*models.Request, error)
	GetRequest(ctx context.Context, id uint64) (*models.Request, error)
	ListByUser(ctx context.Context, userID string, statusFilter string) ([]*models.Request, error)
	ListEvents(ctx context.Context, requestID uint64, limit, offset int) ([]*models.StatusChangeEvent, error)
	Stats(ctx context.Context, period string) (map[string]int64, error)
	ForceNotify(ctx context.Context, id uint64) error
	CancelTracked(ctx context.Context, id uint64, userID string) error
	ResolveAnomaly(ctx context.Context, id uint64) (*models.Request, error)
}

// StateReader отдаёт служебные срезы: здоровье зависимостей и последний
// отчёт аудита.
type StateReader interface {
	ListServiceHealth(ctx context.Context) ([]*models.ServiceHealth, error)
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

type RequestsAPI struct {
	svc   Service
	state StateReader

	auditReportKey string
}

func New(svc Service, state StateReader, auditReportKey string) *RequestsAPI {
	return &RequestsAPI{svc: svc, state: state, auditReportKey: auditReportKey}
}

func (a *RequestsAPI) Mount(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/requests", a.createRequest)
		r.Route("/requests/{id}", func(r chi.Router) {
			r.Get("/", a.getRequest)
			r.Get("/events", a.listEvents)
			r.Post("/notify", a.forceNotify)
			r.Post("/cancel", a.cancelRequest)
			r.Post("/resolve", a.resolveAnomaly)
		})
		r.Get("/users/{userId}/requests", a.listByUser)
		r.Get("/stats", a.stats)
		r.Get("/health/services", a.listServiceHealth)
		r.Get("/audit/report", a.auditReport)
	})
}

type createRequestBody struct {
	ExternalID    uint64  `json:"externalId"`
	MediaID       uint64  `json:"mediaId"`
	UserID        string  `json:"userId"`
	MediaKind     string  `json:"mediaKind"`
	Title         string  `json:"title"`
	Year          *string `json:"year,omitempty"`
	SeasonEpisode *string `json:"seasonEpisode,omitempty"`
}

type requestDTO struct {
	ID            uint64     `json:"id"`
	ExternalID    uint64     `json:"externalId"`
	UserID        string     `json:"userId"`
	MediaKind     string     `json:"mediaKind"`
	Title         string     `json:"title"`
	Year          *string    `json:"year,omitempty"`
	SeasonEpisode *string    `json:"seasonEpisode,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	Notified      bool       `json:"notified"`
	NotifiedAt    *time.Time `json:"notifiedAt,omitempty"`
}

type eventDTO struct {
	ID        uint64    `json:"id"`
	RequestID uint64    `json:"requestId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ChangedAt time.Time `json:"changedAt"`
	Source    string    `json:"source"`
	Note      *string   `json:"note,omitempty"`
}

type healthDTO struct {
	ServiceName          string     `json:"serviceName"`
	Healthy              bool       `json:"healthy"`
	ConsecutiveFailures  int32      `json:"consecutiveFailures"`
	ConsecutiveSuccesses int32      `json:"consecutiveSuccesses"`
	LastCheckedAt        time.Time  `json:"lastCheckedAt"`
	LastHealthyAt        *time.Time `json:"lastHealthyAt,omitempty"`
	LastError            *string    `json:"lastError,omitempty"`
}

func (a *RequestsAPI) createRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return
	}

	req, err := a.svc.CreateTracked(r.Context(), models.RequestCreateInput{
		ExternalID:    body.ExternalID,
		UserID:        body.UserID,
		MediaKind:     body.MediaKind,
		Title:         body.Title,
		Year:          body.Year,
		SeasonEpisode: body.SeasonEpisode,
	}, body.MediaID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDTO(req))
}

func (a *RequestsAPI) getRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := a.svc.GetRequest(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(req))
}

func (a *RequestsAPI) listEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	evs, err := a.svc.ListEvents(r.Context(), id, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]eventDTO, 0, len(evs))
	for _, e := range evs {
		out = append(out, eventDTO{
			ID:        e.ID,
			RequestID: e.RequestID,
			From:      e.From,
			To:        e.To,
			ChangedAt: e.ChangedAt,
			Source:    e.Source,
			Note:      e.Note,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (a *RequestsAPI) forceNotify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.svc.ForceNotify(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notified": true})
}

func (a *RequestsAPI) cancelRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		UserID string `json:"userId"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "malformed json body")
			return
		}
	}
	if err := a.svc.CancelTracked(r.Context(), id, body.UserID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (a *RequestsAPI) resolveAnomaly(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := a.svc.ResolveAnomaly(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(req))
}

func (a *RequestsAPI) listByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	status := r.URL.Query().Get("status")

	reqs, err := a.svc.ListByUser(r.Context(), userID, status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]requestDTO, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toDTO(req))
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": out})
}

func (a *RequestsAPI) stats(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	out, err := a.svc.Stats(r.Context(), period)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "byStatus": out})
}

func (a *RequestsAPI) listServiceHealth(w http.ResponseWriter, r *http.Request) {
	hs, err := a.state.ListServiceHealth(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]healthDTO, 0, len(hs))
	for _, h := range hs {
		out = append(out, healthDTO{
			ServiceName:          h.ServiceName,
			Healthy:              h.Healthy,
			ConsecutiveFailures:  h.ConsecutiveFailures,
			ConsecutiveSuccesses: h.ConsecutiveSuccesses,
			LastCheckedAt:        h.LastCheckedAt,
			LastHealthyAt:        h.LastHealthyAt,
			LastError:            h.LastError,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": out})
}

func (a *RequestsAPI) auditReport(w http.ResponseWriter, r *http.Request) {
	raw, found, err := a.state.GetSetting(r.Context(), a.auditReportKey)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no audit report yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(raw))
}

func toDTO(req *models.Request) requestDTO {
	return requestDTO{
		ID:            req.ID,
		ExternalID:    req.ExternalID,
		UserID:        req.UserID,
		MediaKind:     req.MediaKind,
		Title:         req.Title,
		Year:          req.Year,
		SeasonEpisode: req.SeasonEpisode,
		Status:        req.Status,
		CreatedAt:     req.CreatedAt,
		UpdatedAt:     req.UpdatedAt,
		LastCheckedAt: req.LastCheckedAt,
		Notified:      req.Notified,
		NotifiedAt:    req.NotifiedAt,
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError переводит ошибки доменного слоя в HTTP-статусы.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "request not found")
	case errors.Is(err, models.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, "active request with this externalId already exists")
	case errors.Is(err, models.ErrAlreadyNotified):
		writeError(w, http.StatusConflict, "request already notified")
	case errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrNotCompleted):
		writeError(w, http.StatusUnprocessableEntity, "request is not completed")
	case errors.Is(err, models.ErrNotAnomalous):
		writeError(w, http.StatusUnprocessableEntity, "request is not anomalous")
	case errors.Is(err, models.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case fulfillment.IsTransient(err):
		writeError(w, http.StatusBadGateway, "upstream service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
