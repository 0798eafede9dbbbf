package fake

import (
	"context"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/BearBump/SeerrSync/internal/integrations/fulfillment"
	"github.com/BearBump/SeerrSync/internal/models"
)

// FakeClient — локальная заглушка fulfillment-сервиса для демо и тестов.
// Статус детерминирован по external id и "взрослеет" с числом обращений:
// заявка проходит pending → processing → available.
type FakeClient struct {
	calls atomic.Int64
}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) FetchStatus(ctx context.Context, externalID uint64) (fulfillment.Result, error) {
	now := time.Now().UTC()
	n := f.calls.Add(1)

	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(externalID >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	v := h.Sum32()

	status := models.RemoteStatusPending
	switch {
	case n > 2 && v%5 == 0:
		status = models.RemoteStatusAvailable
	case n > 1:
		status = models.RemoteStatusProcessing
	}

	return fulfillment.Result{
		Status:    status,
		StatusRaw: status,
		StatusAt:  &now,
	}, nil
}

func (f *FakeClient) CreateRequest(ctx context.Context, mediaID uint64, mediaKind string) (fulfillment.CreateResult, error) {
	return fulfillment.CreateResult{
		ExternalID: mediaID,
		Status:     models.RemoteStatusPending,
	}, nil
}

func (f *FakeClient) CancelRequest(ctx context.Context, externalID uint64) error {
	return nil
}

func (f *FakeClient) Probe(ctx context.Context) error { return nil }
