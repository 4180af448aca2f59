package audit

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/exceptionflow/pipeline/internal/httpresponse"
	"github.com/exceptionflow/pipeline/internal/store"
)

// Handler exposes the audit trail and DLQ operator surface over HTTP.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler builds a Handler. Panics if logger is nil and exits the process
// via logger.Fatal if svc is nil, matching the teacher's fail-fast
// constructor convention.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		panic("audit.NewHandler: logger cannot be nil")
	}
	if svc == nil {
		logger.Fatal("audit.NewHandler: service cannot be nil")
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes wires the audit trail and DLQ endpoints onto rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/exceptions/:exception_id/events", h.AuditTrailForException)
	rg.GET("/events", h.AuditTrailForTenant)
	rg.GET("/dlq", h.ListDLQ)
	rg.GET("/dlq/:event_id", h.GetDLQ)
	rg.POST("/dlq/:event_id/replay", h.ReplayDLQ)
	rg.POST("/dlq/:event_id/discard", h.DiscardDLQ)
}

func requireTenant(c *gin.Context) (string, bool) {
	tenantID := c.GetHeader("X-Tenant-ID")
	if tenantID == "" {
		tenantID = c.Query("tenant_id")
	}
	if tenantID == "" {
		httpresponse.Error(c, http.StatusBadRequest, httpresponse.ErrCodeClientInvalidInput, "tenant_id is required")
		return "", false
	}
	return tenantID, true
}

func pageFromQuery(c *gin.Context) store.Page {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "50"))
	return store.Page{Number: page, Size: size}
}

// AuditTrailForException returns every event tied to one business entity.
//
// @Summary      Audit trail for an exception
// @Tags         Audit
// @Produce      json
// @Param        exception_id path string true "Exception ID"
// @Param        event_type   query string false "Filter by event_type"
// @Success      200 {object} httpresponse.Envelope
// @Router       /audit/exceptions/{exception_id}/events [get]
func (h *Handler) AuditTrailForException(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	f := store.Filter{EventType: c.Query("event_type")}
	result, err := h.svc.ForException(c.Request.Context(), c.Param("exception_id"), tenantID, f, pageFromQuery(c))
	if err != nil {
		h.logger.Error("audit trail lookup failed", zap.Error(err))
		httpresponse.Error(c, http.StatusInternalServerError, httpresponse.ErrCodeServerInternal, "lookup failed")
		return
	}
	httpresponse.Success(c, result, "ok")
}

// AuditTrailForTenant returns a filtered, paginated slice of a tenant's
// event log.
//
// @Summary      Tenant-scoped event log
// @Tags         Audit
// @Produce      json
// @Param        event_type     query string false "Filter by event_type"
// @Param        exception_id   query string false "Filter by exception_id"
// @Param        correlation_id query string false "Filter by correlation_id"
// @Success      200 {object} httpresponse.Envelope
// @Router       /audit/events [get]
func (h *Handler) AuditTrailForTenant(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	f := store.Filter{
		EventType:     c.Query("event_type"),
		ExceptionID:   c.Query("exception_id"),
		CorrelationID: c.Query("correlation_id"),
	}
	result, err := h.svc.ForTenant(c.Request.Context(), tenantID, f, pageFromQuery(c))
	if err != nil {
		h.logger.Error("tenant event log lookup failed", zap.Error(err))
		httpresponse.Error(c, http.StatusInternalServerError, httpresponse.ErrCodeServerInternal, "lookup failed")
		return
	}
	httpresponse.Success(c, result, "ok")
}

// ListDLQ lists dead-lettered events for operator triage.
//
// @Summary      List dead-letter events
// @Tags         DLQ
// @Produce      json
// @Param        status      query string false "pending|retrying|succeeded|discarded"
// @Param        worker_type query string false "Filter by worker_type"
// @Success      200 {object} httpresponse.Envelope
// @Router       /audit/dlq [get]
func (h *Handler) ListDLQ(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	f := store.DLQFilter{
		EventType:  c.Query("event_type"),
		WorkerType: c.Query("worker_type"),
		Status:     store.DLQStatus(c.Query("status")),
	}
	result, err := h.svc.ListDLQ(c.Request.Context(), tenantID, f, pageFromQuery(c))
	if err != nil {
		h.logger.Error("dlq listing failed", zap.Error(err))
		httpresponse.Error(c, http.StatusInternalServerError, httpresponse.ErrCodeServerInternal, "lookup failed")
		return
	}
	httpresponse.Success(c, result, "ok")
}

// GetDLQ returns one dead-letter row.
//
// @Summary      Get a dead-letter event
// @Tags         DLQ
// @Produce      json
// @Param        event_id path int true "DLQ row id"
// @Success      200 {object} httpresponse.Envelope
// @Router       /audit/dlq/{event_id} [get]
func (h *Handler) GetDLQ(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("event_id"), 10, 64)
	if err != nil {
		httpresponse.Error(c, http.StatusBadRequest, httpresponse.ErrCodeClientInvalidInput, "event_id must be numeric")
		return
	}
	rec, err := h.svc.GetDLQ(c.Request.Context(), id, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpresponse.Error(c, http.StatusNotFound, httpresponse.ErrCodeNotFound, "not found")
			return
		}
		h.logger.Error("dlq get failed", zap.Error(err))
		httpresponse.Error(c, http.StatusInternalServerError, httpresponse.ErrCodeServerInternal, "lookup failed")
		return
	}
	httpresponse.Success(c, rec, "ok")
}

// ReplayDLQ re-publishes a dead-lettered event (spec supplement: DLQ
// operator surface).
//
// @Summary      Replay a dead-letter event
// @Tags         DLQ
// @Produce      json
// @Param        event_id path int true "DLQ row id"
// @Success      200 {object} httpresponse.Envelope
// @Router       /audit/dlq/{event_id}/replay [post]
func (h *Handler) ReplayDLQ(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("event_id"), 10, 64)
	if err != nil {
		httpresponse.Error(c, http.StatusBadRequest, httpresponse.ErrCodeClientInvalidInput, "event_id must be numeric")
		return
	}
	newEventID, err := h.svc.Replay(c.Request.Context(), id, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpresponse.Error(c, http.StatusNotFound, httpresponse.ErrCodeNotFound, "not found")
			return
		}
		if errors.Is(err, ErrReplayUnavailable) {
			httpresponse.Error(c, http.StatusServiceUnavailable, httpresponse.ErrCodeServerInternal, "replay unavailable")
			return
		}
		h.logger.Error("dlq replay failed", zap.Error(err), zap.Int64("id", id))
		httpresponse.Error(c, http.StatusInternalServerError, httpresponse.ErrCodeServerInternal, "replay failed")
		return
	}
	httpresponse.Success(c, gin.H{"event_id": newEventID}, "replay scheduled")
}

// DiscardDLQ marks a dead-lettered event as abandoned.
//
// @Summary      Discard a dead-letter event
// @Tags         DLQ
// @Produce      json
// @Param        event_id path int true "DLQ row id"
// @Success      200 {object} httpresponse.Envelope
// @Router       /audit/dlq/{event_id}/discard [post]
func (h *Handler) DiscardDLQ(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("event_id"), 10, 64)
	if err != nil {
		httpresponse.Error(c, http.StatusBadRequest, httpresponse.ErrCodeClientInvalidInput, "event_id must be numeric")
		return
	}
	if err := h.svc.Discard(c.Request.Context(), id, tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpresponse.Error(c, http.StatusNotFound, httpresponse.ErrCodeNotFound, "not found")
			return
		}
		h.logger.Error("dlq discard failed", zap.Error(err), zap.Int64("id", id))
		httpresponse.Error(c, http.StatusInternalServerError, httpresponse.ErrCodeServerInternal, "discard failed")
		return
	}
	httpresponse.Success(c, nil, "discarded")
}
