package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/exceptionflow/pipeline/internal/store"
)

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc, zap.NewNop()).RegisterRoutes(r.Group("/audit"))
	return r
}

func TestHandler_AuditTrailForTenant_RequiresTenantHeaderOrQuery(t *testing.T) {
	r := newTestRouter(NewService(store.NewMemory().Events, store.NewMemory().DLQ, nil))

	req := httptest.NewRequest(http.MethodGet, "/audit/events", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_AuditTrailForTenant_ScopesToHeaderTenant(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Events.Store(ctx, store.EventRecord{EventID: "e1", EventType: "ExceptionIngested", TenantID: "T1", Payload: map[string]any{}}))
	require.NoError(t, mem.Events.Store(ctx, store.EventRecord{EventID: "e2", EventType: "ExceptionIngested", TenantID: "T2", Payload: map[string]any{}}))

	r := newTestRouter(NewService(mem.Events, mem.DLQ, nil))

	req := httptest.NewRequest(http.MethodGet, "/audit/events", nil)
	req.Header.Set("X-Tenant-ID", "T1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "e1")
	require.NotContains(t, w.Body.String(), "e2")
}

func TestHandler_GetDLQ_RejectsNonNumericID(t *testing.T) {
	r := newTestRouter(NewService(store.NewMemory().Events, store.NewMemory().DLQ, nil))

	req := httptest.NewRequest(http.MethodGet, "/audit/dlq/not-a-number", nil)
	req.Header.Set("X-Tenant-ID", "T1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GetDLQ_404WhenMissing(t *testing.T) {
	r := newTestRouter(NewService(store.NewMemory().Events, store.NewMemory().DLQ, nil))

	req := httptest.NewRequest(http.MethodGet, "/audit/dlq/999", nil)
	req.Header.Set("X-Tenant-ID", "T1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_ReplayDLQ_503WhenNoPublisherConfigured(t *testing.T) {
	mem := store.NewMemory()
	require.NoError(t, mem.DLQ.Insert(context.Background(), store.DeadLetterRecord{
		EventID: "orig-1", EventType: "ToolExecutionRequested", TenantID: "T1",
		OriginalTopic: "tools", FailureReason: "boom", Payload: map[string]any{}, EventMetadata: map[string]any{},
	}))
	r := newTestRouter(NewService(mem.Events, mem.DLQ, nil))

	req := httptest.NewRequest(http.MethodPost, "/audit/dlq/1/replay", nil)
	req.Header.Set("X-Tenant-ID", "T1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandler_DiscardDLQ_MarksDiscarded(t *testing.T) {
	mem := store.NewMemory()
	require.NoError(t, mem.DLQ.Insert(context.Background(), store.DeadLetterRecord{
		EventID: "orig-1", EventType: "ToolExecutionRequested", TenantID: "T1",
		OriginalTopic: "tools", FailureReason: "boom", Payload: map[string]any{}, EventMetadata: map[string]any{},
	}))
	r := newTestRouter(NewService(mem.Events, mem.DLQ, nil))

	req := httptest.NewRequest(http.MethodPost, "/audit/dlq/1/discard", nil)
	req.Header.Set("X-Tenant-ID", "T1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := mem.DLQ.Get(context.Background(), 1, "T1")
	require.NoError(t, err)
	require.Equal(t, store.DLQDiscarded, rec.Status)
}
