package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_CorrelationIDDefaultsToEventID(t *testing.T) {
	e, err := New(TypeExceptionIngested, "t1", map[string]any{"a": 1})
	require.NoError(t, err)
	require.Equal(t, e.EventID, e.CorrelationID)
	require.Equal(t, e.CorrelationID, e.Metadata["correlation_id"])
}

func TestNew_CorrelationIDDefaultsToExceptionID(t *testing.T) {
	e, err := New(TypeTriageRequested, "t1", map[string]any{"a": 1}, WithExceptionID("exc-1"))
	require.NoError(t, err)
	require.Equal(t, "exc-1", e.CorrelationID)
	require.Equal(t, "exc-1", e.Metadata["correlation_id"])
}

func TestNew_ExplicitCorrelationIDWins(t *testing.T) {
	e, err := New(TypeTriageRequested, "t1", map[string]any{"a": 1},
		WithExceptionID("exc-1"), WithCorrelationID("corr-override"))
	require.NoError(t, err)
	require.Equal(t, "corr-override", e.CorrelationID)
}

func TestNew_RejectsMissingEventType(t *testing.T) {
	_, err := New("", "t1", map[string]any{})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidEvent))
}

func TestNew_RejectsMissingTenant(t *testing.T) {
	_, err := New(TypeExceptionIngested, "", map[string]any{})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidEvent))
}

func TestNew_RejectsNilPayload(t *testing.T) {
	_, err := New(TypeExceptionIngested, "t1", nil)
	require.Error(t, err)
}

func TestNew_RejectsVersionBelowOne(t *testing.T) {
	_, err := New(TypeExceptionIngested, "t1", map[string]any{}, WithVersion(0))
	require.Error(t, err)
}
