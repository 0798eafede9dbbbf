package auditor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BearBump/SeerrSync/internal/integrations/fulfillment"
	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/BearBump/SeerrSync/internal/retry"
	"github.com/BearBump/SeerrSync/internal/storage/pgrequests"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeRepo держит заявки в памяти и честно применяет переходы, чтобы
// проверить идемпотентность повторного аудита.
type fakeRepo struct {
	requests map[uint64]*models.Request
	applied  []pgrequests.Transition
	settings map[string]string
}

func newFakeRepo(reqs ...*models.Request) *fakeRepo {
	f := &fakeRepo{requests: map[uint64]*models.Request{}, settings: map[string]string{}}
	for _, r := range reqs {
		cp := *r
		f.requests[r.ID] = &cp
	}
	return f
}

func (f *fakeRepo) ListActive(ctx context.Context) ([]*models.Request, error) {
	out := []*models.Request{}
	for _, r := range f.requests {
		if models.IsTerminal(r.Status) || r.Status == models.RequestStatusAnomalous {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}
func (f *fakeRepo) ApplyTransition(ctx context.Context, tr pgrequests.Transition) error {
	r, ok := f.requests[tr.RequestID]
	if !ok {
		return models.ErrRequestNotFound
	}
	if r.Version != tr.ExpectedVersion {
		return models.ErrConflict
	}
	r.Status = tr.To
	r.Version++
	f.applied = append(f.applied, tr)
	return nil
}
func (f *fakeRepo) TouchChecked(ctx context.Context, id uint64, at time.Time) error {
	return nil
}
func (f *fakeRepo) PutSetting(ctx context.Context, key, value string) error {
	f.settings[key] = value
	return nil
}

type fakeClient struct {
	results map[uint64]fulfillment.Result
	errs    map[uint64]error
}

func (f *fakeClient) FetchStatus(ctx context.Context, externalID uint64) (fulfillment.Result, error) {
	if err, ok := f.errs[externalID]; ok {
		return fulfillment.Result{}, err
	}
	return f.results[externalID], nil
}
func (f *fakeClient) CreateRequest(ctx context.Context, mediaID uint64, mediaKind string) (fulfillment.CreateResult, error) {
	return fulfillment.CreateResult{}, nil
}
func (f *fakeClient) CancelRequest(ctx context.Context, externalID uint64) error { return nil }
func (f *fakeClient) Probe(ctx context.Context) error                            { return nil }

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func req(id, extID uint64, status string) *models.Request {
	return &models.Request{ID: id, ExternalID: extID, Status: status, Version: 1}
}

func TestAudit_orphanCancelled(t *testing.T) {
	repo := newFakeRepo(req(1, 10, models.RequestStatusProcessing))
	cl := &fakeClient{errs: map[uint64]error{10: fulfillment.ErrNotFound}}
	a := New(repo, cl).WithRetryPolicy(fastPolicy())

	rep, err := a.Audit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Checked)
	require.Equal(t, 1, rep.Orphaned)
	require.Equal(t, 1, rep.Corrected)
	require.Equal(t, models.RequestStatusCancelled, repo.requests[1].Status)
	require.Equal(t, models.ChangeSourceAudit, repo.applied[0].Source)
}

func TestAudit_unmappedBecomesAnomalous(t *testing.T) {
	repo := newFakeRepo(req(1, 10, models.RequestStatusPending))
	cl := &fakeClient{results: map[uint64]fulfillment.Result{10: {Status: "mystery"}}}
	a := New(repo, cl).WithRetryPolicy(fastPolicy())

	rep, err := a.Audit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Anomalous)
	require.Equal(t, models.RequestStatusAnomalous, repo.requests[1].Status)

	// Аномальная заявка выпадает из следующего прохода.
	rep, err = a.Audit(context.Background())
	require.NoError(t, err)
	require.Zero(t, rep.Checked)
}

func TestAudit_correctsBackwardDrift(t *testing.T) {
	// Реконсилятору такой переход запрещён, аудитору — нет.
	repo := newFakeRepo(req(1, 10, models.RequestStatusPartiallyAvailable))
	cl := &fakeClient{results: map[uint64]fulfillment.Result{10: {Status: models.RemoteStatusProcessing, StatusRaw: "3"}}}
	a := New(repo, cl).WithRetryPolicy(fastPolicy())

	rep, err := a.Audit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Corrected)
	require.Equal(t, models.RequestStatusProcessing, repo.requests[1].Status)
}

func TestAudit_secondRunIsIdempotent(t *testing.T) {
	repo := newFakeRepo(
		req(1, 10, models.RequestStatusPending),
		req(2, 20, models.RequestStatusApproved),
	)
	cl := &fakeClient{results: map[uint64]fulfillment.Result{
		10: {Status: models.RemoteStatusProcessing},
		20: {Status: models.RemoteStatusApproved},
	}}
	a := New(repo, cl).WithRetryPolicy(fastPolicy())

	rep, err := a.Audit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Corrected)

	// Удалённая сторона не менялась: второй проход ничего не правит.
	rep, err = a.Audit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, rep.Checked)
	require.Zero(t, rep.Corrected)
}

func TestAudit_fetchFailureIsolated(t *testing.T) {
	repo := newFakeRepo(
		req(1, 10, models.RequestStatusPending),
		req(2, 20, models.RequestStatusPending),
	)
	cl := &fakeClient{
		results: map[uint64]fulfillment.Result{20: {Status: models.RemoteStatusApproved}},
		errs:    map[uint64]error{10: fulfillment.Transient(errors.New("503"))},
	}
	a := New(repo, cl).WithRetryPolicy(fastPolicy())

	rep, err := a.Audit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, rep.Checked)
	require.Equal(t, 1, rep.Failures)
	require.Equal(t, 1, rep.Corrected)
}

func TestAudit_reportPersisted(t *testing.T) {
	repo := newFakeRepo(req(1, 10, models.RequestStatusPending))
	cl := &fakeClient{results: map[uint64]fulfillment.Result{10: {Status: models.RemoteStatusPending}}}
	a := New(repo, cl).WithRetryPolicy(fastPolicy())

	_, err := a.Audit(context.Background())
	require.NoError(t, err)

	raw, ok := repo.settings[LastReportKey]
	require.True(t, ok)
	var rep Report
	require.NoError(t, json.Unmarshal([]byte(raw), &rep))
	require.Equal(t, 1, rep.Checked)
}
