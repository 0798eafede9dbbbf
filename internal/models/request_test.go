package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition_ForwardPath(t *testing.T) {
	require.True(t, CanTransition(RequestStatusPending, RequestStatusApproved))
	require.True(t, CanTransition(RequestStatusApproved, RequestStatusProcessing))
	require.True(t, CanTransition(RequestStatusProcessing, RequestStatusPartiallyAvailable))
	require.True(t, CanTransition(RequestStatusPartiallyAvailable, RequestStatusCompleted))

	// Удалённый сервис может "перепрыгнуть" промежуточные статусы между опросами.
	require.True(t, CanTransition(RequestStatusPending, RequestStatusCompleted))
}

func TestCanTransition_NoRegression(t *testing.T) {
	require.False(t, CanTransition(RequestStatusProcessing, RequestStatusPending))
	require.False(t, CanTransition(RequestStatusCompleted, RequestStatusProcessing))
	require.False(t, CanTransition(RequestStatusPartiallyAvailable, RequestStatusApproved))
	require.False(t, CanTransition(RequestStatusPending, RequestStatusPending))
}

func TestCanTransition_ExitToDeclinedOrCancelled(t *testing.T) {
	for _, from := range []string{
		RequestStatusPending, RequestStatusApproved,
		RequestStatusProcessing, RequestStatusPartiallyAvailable,
	} {
		require.True(t, CanTransition(from, RequestStatusDeclined), from)
		require.True(t, CanTransition(from, RequestStatusCancelled), from)
	}
}

func TestCanTransition_TerminalNeverOverwritten(t *testing.T) {
	for _, from := range []string{RequestStatusCompleted, RequestStatusDeclined, RequestStatusCancelled} {
		for _, to := range []string{
			RequestStatusPending, RequestStatusProcessing, RequestStatusCompleted,
			RequestStatusDeclined, RequestStatusCancelled,
		} {
			require.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_AnomalousFrozen(t *testing.T) {
	require.False(t, CanTransition(RequestStatusAnomalous, RequestStatusCompleted))
	require.False(t, CanTransition(RequestStatusAnomalous, RequestStatusCancelled))
}

func TestMapRemoteStatus(t *testing.T) {
	local, ok := MapRemoteStatus(RemoteStatusAvailable)
	require.True(t, ok)
	require.Equal(t, RequestStatusCompleted, local)

	local, ok = MapRemoteStatus(RemoteStatusDeclined)
	require.True(t, ok)
	require.Equal(t, RequestStatusDeclined, local)

	_, ok = MapRemoteStatus("mystery_state")
	require.False(t, ok)
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(RequestStatusCompleted))
	require.True(t, IsTerminal(RequestStatusDeclined))
	require.True(t, IsTerminal(RequestStatusCancelled))
	require.False(t, IsTerminal(RequestStatusAnomalous))
	require.False(t, IsTerminal(RequestStatusPending))
}
