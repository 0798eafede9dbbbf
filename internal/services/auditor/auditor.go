package auditor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/SeerrSync/internal/integrations/fulfillment"
	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/BearBump/SeerrSync/internal/retry"
	"github.com/BearBump/SeerrSync/internal/storage/pgrequests"
	"github.com/pkg/errors"
)

// LastReportKey — ключ в таблице settings, под которым лежит JSON
// последнего отчёта. Читается API-ручкой /v1/audit/report.
const LastReportKey = "audit:last_report"

type Repository interface {
	ListActive(ctx context.Context) ([]*models.Request, error)
	ApplyTransition(ctx context.Context, tr pgrequests.Transition) error
	TouchChecked(ctx context.Context, id uint64, at time.Time) error
	PutSetting(ctx context.Context, key, value string) error
}

// Report — итог одного прохода аудита.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Checked    int       `json:"checked"`
	Corrected  int       `json:"corrected"`
	Orphaned   int       `json:"orphaned"`
	Anomalous  int       `json:"anomalous"`
	Failures   int       `json:"failures"`
}

// Auditor — вторая линия сверки. В отличие от реконсилятора ему разрешено
// править дрейф мимо графа переходов (в том числе назад и в терминальные
// статусы), всегда с source=audit. Удалённую сторону не трогает никогда и
// локальных строк для незнакомых удалённых заявок не заводит.
type Auditor struct {
	repo        Repository
	client      fulfillment.Client
	retryPolicy retry.Policy
}

func New(repo Repository, client fulfillment.Client) *Auditor {
	return &Auditor{repo: repo, client: client, retryPolicy: retry.DefaultPolicy()}
}

func (a *Auditor) WithRetryPolicy(p retry.Policy) *Auditor {
	a.retryPolicy = p
	return a
}

// Audit проходит весь активный набор последовательно: аудит — фоновая
// задача, скорость тут не важна, важно не создавать нагрузку на источник.
func (a *Auditor) Audit(ctx context.Context) (Report, error) {
	rep := Report{StartedAt: time.Now().UTC()}

	items, err := a.repo.ListActive(ctx)
	if err != nil {
		return rep, errors.Wrap(err, "list active requests")
	}

	for _, req := range items {
		rep.Checked++
		a.auditOne(ctx, req, &rep)
	}

	rep.FinishedAt = time.Now().UTC()
	a.persistReport(ctx, rep)
	slog.Info("audit finished",
		"checked", rep.Checked, "corrected", rep.Corrected,
		"orphaned", rep.Orphaned, "anomalous", rep.Anomalous, "failures", rep.Failures)
	return rep, nil
}

func (a *Auditor) auditOne(ctx context.Context, req *models.Request, rep *Report) {
	now := time.Now().UTC()

	var res fulfillment.Result
	err := retry.Do(ctx, a.retryPolicy, fulfillment.IsTransient, func(ctx context.Context) error {
		var ferr error
		res, ferr = a.client.FetchStatus(ctx, req.ExternalID)
		return ferr
	})

	if errors.Is(err, fulfillment.ErrNotFound) {
		// Сирота: удалённая заявка исчезла, локальную закрываем.
		note := "remote counterpart gone"
		applied, aerr := a.correct(ctx, req, models.RequestStatusCancelled, &note, now)
		if aerr != nil {
			rep.Failures++
			return
		}
		if applied {
			rep.Orphaned++
			rep.Corrected++
		}
		return
	}
	if err != nil {
		slog.Error("audit fetch", "request_id", req.ID, "error", err.Error())
		rep.Failures++
		return
	}

	local, ok := models.MapRemoteStatus(res.Status)
	if !ok {
		// Незнакомый статус. Замораживаем заявку до ручного разбора.
		note := "unmapped remote status " + res.Status
		applied, aerr := a.correct(ctx, req, models.RequestStatusAnomalous, &note, now)
		if aerr != nil {
			rep.Failures++
			return
		}
		if applied {
			rep.Anomalous++
			rep.Corrected++
		}
		return
	}

	if local == req.Status {
		if terr := a.repo.TouchChecked(ctx, req.ID, now); terr != nil {
			rep.Failures++
		}
		return
	}

	note := res.StatusRaw
	applied, aerr := a.correct(ctx, req, local, &note, now)
	if aerr != nil {
		rep.Failures++
		return
	}
	if applied {
		rep.Corrected++
	}
}

func (a *Auditor) correct(ctx context.Context, req *models.Request, to string, note *string, now time.Time) (bool, error) {
	err := a.repo.ApplyTransition(ctx, pgrequests.Transition{
		RequestID:       req.ID,
		From:            req.Status,
		To:              to,
		Source:          models.ChangeSourceAudit,
		Note:            note,
		CheckedAt:       now,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Кто-то поменял строку между чтением и правкой. Не страшно,
			// следующий проход увидит свежую версию.
			slog.Info("audit correction conflict, skipping", "request_id", req.ID)
			return false, nil
		}
		slog.Error("audit correction", "request_id", req.ID, "error", err.Error())
		return false, err
	}
	slog.Warn("audit corrected request", "request_id", req.ID, "from", req.Status, "to", to)
	return true, nil
}

func (a *Auditor) persistReport(ctx context.Context, rep Report) {
	b, err := json.Marshal(rep)
	if err != nil {
		slog.Error("marshal audit report", "error", err.Error())
		return
	}
	if err := a.repo.PutSetting(ctx, LastReportKey, string(b)); err != nil {
		slog.Error("persist audit report", "error", err.Error())
	}
}
