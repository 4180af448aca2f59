package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/exceptionflow/pipeline/internal/broker"
	"github.com/exceptionflow/pipeline/internal/events"
	"github.com/exceptionflow/pipeline/internal/store"
)

type fakeBroker struct {
	mu        sync.Mutex
	published []publishedMsg
}

type publishedMsg struct {
	topic string
	key   *string
	value []byte
}

func (f *fakeBroker) Publish(_ context.Context, topic string, key *string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMsg{topic: topic, key: key, value: value})
	return nil
}

func (f *fakeBroker) Subscribe(context.Context, []string, string, broker.Handler) error { return nil }
func (f *fakeBroker) Health(context.Context) broker.Status                              { return broker.Status{} }
func (f *fakeBroker) Close() error                                                       { return nil }

func (f *fakeBroker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func newTestEvent(t *testing.T) events.Event {
	t.Helper()
	ev, err := events.New(events.TypeExceptionIngested, "tenant-a", map[string]any{"x": 1})
	require.NoError(t, err)
	return ev
}

func TestScheduler_RetriesWhenBelowMax(t *testing.T) {
	reg := NewRegistry()
	reg.Set("ExceptionIngested", Policy{MaxRetries: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2})
	fb := &fakeBroker{}
	mem := store.NewMemory()
	sched := NewScheduler(reg, fb, mem.Events, mem.Processing, mem.DLQ, zap.NewNop(), nil)

	err := sched.ScheduleRetry(context.Background(), "exceptions.ingested", newTestEvent(t), "intake", errors.New("boom"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return fb.count() >= 2 }, time.Second, 5*time.Millisecond)

	count, err := mem.DLQ.Count(context.Background(), "tenant-a", store.DLQFilter{})
	require.NoError(t, err)
	require.Zero(t, count)
}

// TestScheduler_RetryCountAdvancesAcrossRedeliveries drives ScheduleRetry
// three times for the same (event_id, worker_type), as a real redelivery
// loop would, and checks the attempt count read back from the ledger
// advances each time instead of always re-deriving 0 from the raw handler
// error (spec section 4.8 steps 2 and 5).
func TestScheduler_RetryCountAdvancesAcrossRedeliveries(t *testing.T) {
	reg := NewRegistry()
	reg.Set("ExceptionIngested", Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2})
	fb := &fakeBroker{}
	mem := store.NewMemory()
	sched := NewScheduler(reg, fb, mem.Events, mem.Processing, mem.DLQ, zap.NewNop(), nil)
	ev := newTestEvent(t)

	require.NoError(t, mem.Processing.MarkProcessing(context.Background(), store.ProcessingRecord{
		EventID: ev.EventID, WorkerType: "intake", TenantID: ev.TenantID, Status: store.StatusProcessing,
	}))

	// Attempt 1: no marker recorded yet -> retry_count=0, attempt=1.
	require.NoError(t, sched.ScheduleRetry(context.Background(), "exceptions.ingested", ev, "intake", errors.New("boom")))
	rec, err := mem.Processing.Get(context.Background(), ev.EventID, "intake")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	require.Equal(t, "boom (retry 1/2)", *rec.ErrorMessage)

	// Attempt 2: ledger now carries "(retry 1/2)" -> retry_count=1, attempt=2.
	require.NoError(t, sched.ScheduleRetry(context.Background(), "exceptions.ingested", ev, "intake", errors.New("boom")))
	rec, err = mem.Processing.Get(context.Background(), ev.EventID, "intake")
	require.NoError(t, err)
	require.Equal(t, "boom (retry 2/2)", *rec.ErrorMessage)

	count, err := mem.DLQ.Count(context.Background(), ev.TenantID, store.DLQFilter{})
	require.NoError(t, err)
	require.Zero(t, count, "must not be dead-lettered before max_retries is exceeded")

	// Attempt 3: ledger carries "(retry 2/2)" -> retry_count=2 >= max_retries(2) -> DLQ.
	require.NoError(t, sched.ScheduleRetry(context.Background(), "exceptions.ingested", ev, "intake", errors.New("boom")))

	dlqCount, err := mem.DLQ.Count(context.Background(), ev.TenantID, store.DLQFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, dlqCount)

	result, err := mem.DLQ.List(context.Background(), ev.TenantID, store.DLQFilter{}, store.Page{})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, 2, result.Items[0].RetryCount)
}

func TestScheduler_DeadLettersWhenExhausted(t *testing.T) {
	reg := NewRegistry()
	reg.Set("ExceptionIngested", Policy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2})
	fb := &fakeBroker{}
	mem := store.NewMemory()
	sched := NewScheduler(reg, fb, mem.Events, mem.Processing, mem.DLQ, zap.NewNop(), nil)
	ev := newTestEvent(t)

	require.NoError(t, mem.Processing.MarkProcessing(context.Background(), store.ProcessingRecord{
		EventID: ev.EventID, WorkerType: "intake", TenantID: ev.TenantID, Status: store.StatusProcessing,
	}))
	require.NoError(t, mem.Processing.MarkFailed(context.Background(), ev.EventID, "intake", time.Now().UTC(), "boom (retry 1/1)"))

	err := sched.ScheduleRetry(context.Background(), "exceptions.ingested", ev, "intake", errors.New("boom"))
	require.NoError(t, err)

	count, err := mem.DLQ.Count(context.Background(), "tenant-a", store.DLQFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.Eventually(t, func() bool { return fb.count() >= 1 }, time.Second, 5*time.Millisecond)
}

// TestScheduler_NilLedgerTreatsEveryCallAsFirstAttempt covers the documented
// degraded mode: without a ledger, ScheduleRetry cannot read back a prior
// attempt count, so it always schedules rather than ever reaching DLQ.
func TestScheduler_NilLedgerTreatsEveryCallAsFirstAttempt(t *testing.T) {
	reg := NewRegistry()
	reg.Set("ExceptionIngested", Policy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2})
	fb := &fakeBroker{}
	mem := store.NewMemory()
	sched := NewScheduler(reg, fb, mem.Events, nil, mem.DLQ, zap.NewNop(), nil)

	require.NoError(t, sched.ScheduleRetry(context.Background(), "exceptions.ingested", newTestEvent(t), "intake", errors.New("boom")))

	count, err := mem.DLQ.Count(context.Background(), "tenant-a", store.DLQFilter{})
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestParseRetryCount(t *testing.T) {
	require.Equal(t, 0, parseRetryCount("plain failure"))
	require.Equal(t, 2, parseRetryCount("timeout calling tool (retry 2/5)"))
}
