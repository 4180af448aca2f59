package broker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErr_WrapsKindForErrorsIs(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Err(ErrConnection, cause)

	require.True(t, errors.Is(err, ErrConnection))
	require.False(t, errors.Is(err, ErrPublish))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "connection error")
	require.Contains(t, err.Error(), "connection refused")
}

func TestErr_NilCauseUsesKindMessageOnly(t *testing.T) {
	err := Err(ErrSubscribe, nil)
	require.Equal(t, ErrSubscribe.Error(), err.Error())
	require.True(t, errors.Is(err, ErrSubscribe))
}
