package fake

import (
	"context"
	"testing"

	"github.com/BearBump/SeerrSync/internal/models"
	"github.com/stretchr/testify/require"
)

func TestFakeClient_FetchStatusDeterministic(t *testing.T) {
	c := New()
	ctx := context.Background()

	res, err := c.FetchStatus(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, models.RemoteStatusPending, res.Status)
	require.NotNil(t, res.StatusAt)

	res, err = c.FetchStatus(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, models.RemoteStatusProcessing, res.Status)
}

func TestFakeClient_CreateAndProbe(t *testing.T) {
	c := New()
	ctx := context.Background()

	cr, err := c.CreateRequest(ctx, 10681, models.MediaKindMovie)
	require.NoError(t, err)
	require.Equal(t, uint64(10681), cr.ExternalID)
	require.Equal(t, models.RemoteStatusPending, cr.Status)

	require.NoError(t, c.Probe(ctx))
	require.NoError(t, c.CancelRequest(ctx, 10681))
}
