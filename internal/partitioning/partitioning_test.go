package partitioning

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	k, err := Key("t1", "e1")
	require.NoError(t, err)
	require.Equal(t, "t1:e1", k)

	k, err = Key("t1", "")
	require.NoError(t, err)
	require.Equal(t, "t1", k)

	_, err = Key("", "e1")
	require.ErrorIs(t, err, ErrEmptyTenant)
}

func TestNumber_Deterministic(t *testing.T) {
	n1, err := Number("t1", "e1", 8)
	require.NoError(t, err)
	n2, err := Number("t1", "e1", 8)
	require.NoError(t, err)
	require.Equal(t, n1, n2)
	require.True(t, n1 >= 0 && n1 < 8)
}

func TestNumber_RejectsInvalidCount(t *testing.T) {
	_, err := Number("t1", "e1", 0)
	require.ErrorIs(t, err, ErrInvalidPartitionCount)
}

func TestNumber_SameExceptionSamePartition(t *testing.T) {
	for n := 1; n <= 4; n++ {
		a, err := Number("tenantA", "exc-9", 16)
		require.NoError(t, err)
		b, err := Number("tenantA", "exc-9", 16)
		require.NoError(t, err)
		require.Equal(t, a, b)
	}
}
