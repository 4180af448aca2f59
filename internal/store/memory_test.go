package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryEventStore_TenantIsolation(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.Events.Store(ctx, EventRecord{EventID: "e1", EventType: "ExceptionIngested", TenantID: "T1", CorrelationID: "e1", Timestamp: time.Now(), Payload: map[string]any{}}))
	require.NoError(t, mem.Events.Store(ctx, EventRecord{EventID: "e2", EventType: "ExceptionIngested", TenantID: "T2", CorrelationID: "e2", Timestamp: time.Now(), Payload: map[string]any{}}))

	res, err := mem.Events.ByTenant(ctx, "T1", Filter{}, Page{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, "T1", res.Items[0].TenantID)

	res, err = mem.Events.ByTenant(ctx, "T2", Filter{}, Page{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, "T2", res.Items[0].TenantID)

	_, err = mem.Events.Get(ctx, "e1", "T2")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = mem.Events.ByTenant(ctx, "", Filter{}, Page{})
	require.ErrorIs(t, err, ErrTenantRequired)
}

func TestMemoryEventStore_ByExceptionMatchesCorrelationIDToo(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	excID := "exc-1"
	require.NoError(t, mem.Events.Store(ctx, EventRecord{
		EventID: "e1", EventType: "ExceptionIngested", TenantID: "T1",
		CorrelationID: "e1", Timestamp: time.Now(), Payload: map[string]any{},
	}))
	require.NoError(t, mem.Events.Store(ctx, EventRecord{
		EventID: "e2", EventType: "TriageRequested", TenantID: "T1", ExceptionID: &excID,
		CorrelationID: "e1", Timestamp: time.Now().Add(time.Second), Payload: map[string]any{},
	}))

	res, err := mem.Events.ByException(ctx, "e1", "T1", Filter{}, Page{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
}

func TestMemoryEventStore_PaginationSortsDescendingByTimestamp(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, mem.Events.Store(ctx, EventRecord{
			EventID: string(rune('a' + i)), EventType: "X", TenantID: "T1",
			CorrelationID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Minute), Payload: map[string]any{},
		}))
	}

	res, err := mem.Events.ByTenant(ctx, "T1", Filter{}, Page{Number: 1, Size: 2})
	require.NoError(t, err)
	require.Equal(t, 5, res.Total)
	require.Equal(t, 3, res.TotalPages)
	require.Len(t, res.Items, 2)
	require.Equal(t, "e", res.Items[0].EventID)
	require.Equal(t, "d", res.Items[1].EventID)
}

func TestMemoryProcessingLedger_LifecycleTransitions(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	_, err := mem.Processing.Get(ctx, "e1", "intake")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mem.Processing.MarkProcessing(ctx, ProcessingRecord{EventID: "e1", WorkerType: "intake", TenantID: "T1"}))
	rec, err := mem.Processing.Get(ctx, "e1", "intake")
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, rec.Status)

	require.NoError(t, mem.Processing.MarkFailed(ctx, "e1", "intake", time.Now(), "boom (retry 1/3)"))
	rec, err = mem.Processing.Get(ctx, "e1", "intake")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorMessage)

	require.NoError(t, mem.Processing.MarkCompleted(ctx, "e1", "intake", time.Now()))
	rec, err = mem.Processing.Get(ctx, "e1", "intake")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)
	require.Nil(t, rec.ErrorMessage)
}

func TestMemoryDeadLetterStore_InsertListCountSetStatus(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.DLQ.Insert(ctx, DeadLetterRecord{
		EventID: "e1", EventType: "ToolExecutionRequested", TenantID: "T1",
		OriginalTopic: "tools", FailureReason: "boom", RetryCount: 3, WorkerType: "tool",
		Payload: map[string]any{}, EventMetadata: map[string]any{}, FailedAt: time.Now(),
	}))

	res, err := mem.DLQ.List(ctx, "T1", DLQFilter{WorkerType: "tool"}, Page{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, DLQPending, res.Items[0].Status)

	n, err := mem.DLQ.Count(ctx, "T1", DLQFilter{Status: DLQPending})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	id := res.Items[0].ID
	require.NoError(t, mem.DLQ.SetStatus(ctx, id, "T1", DLQRetrying))

	got, err := mem.DLQ.Get(ctx, id, "T1")
	require.NoError(t, err)
	require.Equal(t, DLQRetrying, got.Status)

	n, err = mem.DLQ.Count(ctx, "T1", DLQFilter{Status: DLQPending})
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = mem.DLQ.Get(ctx, id, "T2")
	require.ErrorIs(t, err, ErrNotFound)
}
