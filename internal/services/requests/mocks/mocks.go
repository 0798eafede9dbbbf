package mocks

import (
	"context"
	"time"

	"github.com/BearBump/SeerrSync/internal/integrations/fulfillment"
	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/BearBump/SeerrSync/internal/storage/pgrequests"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateRequest(ctx context.Context, in models.RequestCreateInput) (*models.Request, error) {
	args := m.Called(ctx, in)
	var r *models.Request
	if v := args.Get(0); v != nil {
		r = v.(*models.Request)
	}
	return r, args.Error(1)
}

func (m *MockRepository) GetRequest(ctx context.Context, id uint64) (*models.Request, error) {
	args := m.Called(ctx, id)
	var r *models.Request
	if v := args.Get(0); v != nil {
		r = v.(*models.Request)
	}
	return r, args.Error(1)
}

func (m *MockRepository) ListByUser(ctx context.Context, userID string, statusFilter string) ([]*models.Request, error) {
	args := m.Called(ctx, userID, statusFilter)
	var out []*models.Request
	if v := args.Get(0); v != nil {
		out = v.([]*models.Request)
	}
	return out, args.Error(1)
}

func (m *MockRepository) ListEvents(ctx context.Context, requestID uint64, limit, offset int) ([]*models.StatusChangeEvent, error) {
	args := m.Called(ctx, requestID, limit, offset)
	var out []*models.StatusChangeEvent
	if v := args.Get(0); v != nil {
		out = v.([]*models.StatusChangeEvent)
	}
	return out, args.Error(1)
}

func (m *MockRepository) Stats(ctx context.Context, since time.Time) (map[string]int64, error) {
	args := m.Called(ctx, since)
	var out map[string]int64
	if v := args.Get(0); v != nil {
		out = v.(map[string]int64)
	}
	return out, args.Error(1)
}

func (m *MockRepository) ApplyTransition(ctx context.Context, tr pgrequests.Transition) error {
	args := m.Called(ctx, tr)
	return args.Error(0)
}

func (m *MockRepository) GetActiveByExternalID(ctx context.Context, externalID uint64) (*models.Request, error) {
	args := m.Called(ctx, externalID)
	var r *models.Request
	if v := args.Get(0); v != nil {
		r = v.(*models.Request)
	}
	return r, args.Error(1)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, id uint64, force bool) error {
	args := m.Called(ctx, id, force)
	return args.Error(0)
}

type MockClient struct {
	mock.Mock
}

func (m *MockClient) FetchStatus(ctx context.Context, externalID uint64) (fulfillment.Result, error) {
	args := m.Called(ctx, externalID)
	return args.Get(0).(fulfillment.Result), args.Error(1)
}

func (m *MockClient) CreateRequest(ctx context.Context, mediaID uint64, mediaKind string) (fulfillment.CreateResult, error) {
	args := m.Called(ctx, mediaID, mediaKind)
	return args.Get(0).(fulfillment.CreateResult), args.Error(1)
}

func (m *MockClient) CancelRequest(ctx context.Context, externalID uint64) error {
	args := m.Called(ctx, externalID)
	return args.Error(0)
}

func (m *MockClient) Probe(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
