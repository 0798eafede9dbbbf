package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BearBump/SeerrSync/internal/broker/messages"
	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	getOut *models.Request
	getErr error

	markedID      uint64
	markedVersion int64
	markedForce   bool
	markCalls     int
	markErr       error
}

func (f *fakeRepo) GetRequest(ctx context.Context, id uint64) (*models.Request, error) {
	return f.getOut, f.getErr
}
func (f *fakeRepo) MarkNotified(ctx context.Context, id uint64, at time.Time, expectedVersion int64, allowRenotify bool) error {
	f.markedID = id
	f.markedVersion = expectedVersion
	f.markedForce = allowRenotify
	f.markCalls++
	return f.markErr
}

type fakeProducer struct {
	topic string
	key   []byte
	value []byte
	calls int
	err   error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	f.topic = topic
	f.key = key
	f.value = value
	f.calls++
	return f.err
}

func completedRequest() *models.Request {
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	return &models.Request{
		ID:         5,
		ExternalID: 99,
		UserID:     "U1",
		MediaKind:  models.MediaKindMovie,
		Title:      "Heat",
		Status:     models.RequestStatusCompleted,
		CreatedAt:  created,
		UpdatedAt:  created.Add(90 * time.Second),
		Version:    3,
	}
}

func TestDispatch_publishesThenMarks(t *testing.T) {
	r := &fakeRepo{getOut: completedRequest()}
	p := &fakeProducer{}
	d := New(r, p, "request.completed")

	require.NoError(t, d.Dispatch(context.Background(), 5, false))

	require.Equal(t, 1, p.calls)
	require.Equal(t, "request.completed", p.topic)
	require.Equal(t, []byte("5"), p.key)

	var msg messages.RequestCompleted
	require.NoError(t, json.Unmarshal(p.value, &msg))
	require.Equal(t, uint64(5), msg.RequestID)
	require.Equal(t, "Heat", msg.Title)
	require.Equal(t, int64(90), msg.ElapsedSeconds)
	require.False(t, msg.Forced)

	require.Equal(t, uint64(5), r.markedID)
	require.Equal(t, int64(3), r.markedVersion)
	require.False(t, r.markedForce)
}

func TestDispatch_notCompleted(t *testing.T) {
	req := completedRequest()
	req.Status = models.RequestStatusProcessing
	r := &fakeRepo{getOut: req}
	p := &fakeProducer{}
	d := New(r, p, "request.completed")

	err := d.Dispatch(context.Background(), 5, false)
	require.ErrorIs(t, err, models.ErrNotCompleted)
	require.Zero(t, p.calls)
	require.Zero(t, r.markCalls)
}

func TestDispatch_alreadyNotified(t *testing.T) {
	req := completedRequest()
	req.Notified = true
	r := &fakeRepo{getOut: req}
	p := &fakeProducer{}
	d := New(r, p, "request.completed")

	err := d.Dispatch(context.Background(), 5, false)
	require.ErrorIs(t, err, models.ErrAlreadyNotified)
	require.Zero(t, p.calls)
}

func TestDispatch_forceRenotifies(t *testing.T) {
	req := completedRequest()
	req.Notified = true
	r := &fakeRepo{getOut: req}
	p := &fakeProducer{}
	d := New(r, p, "request.completed")

	require.NoError(t, d.Dispatch(context.Background(), 5, true))
	require.Equal(t, 1, p.calls)
	require.True(t, r.markedForce)

	var msg messages.RequestCompleted
	require.NoError(t, json.Unmarshal(p.value, &msg))
	require.True(t, msg.Forced)
}

func TestDispatch_concurrentMarkIsNotAnError(t *testing.T) {
	r := &fakeRepo{getOut: completedRequest(), markErr: models.ErrConflict}
	p := &fakeProducer{}
	d := New(r, p, "request.completed")

	require.NoError(t, d.Dispatch(context.Background(), 5, false))
	require.Equal(t, 1, p.calls)
}

func TestDispatch_publishErrorSkipsMark(t *testing.T) {
	r := &fakeRepo{getOut: completedRequest()}
	p := &fakeProducer{err: context.DeadlineExceeded}
	d := New(r, p, "request.completed")

	require.Error(t, d.Dispatch(context.Background(), 5, false))
	require.Zero(t, r.markCalls)
}
