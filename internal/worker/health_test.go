package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/exceptionflow/pipeline/internal/broker"
)

type fakeBroker struct{ status broker.Status }

func (f *fakeBroker) Publish(context.Context, string, *string, []byte) error { return nil }
func (f *fakeBroker) Subscribe(ctx context.Context, _ []string, _ string, _ broker.Handler) error {
	<-ctx.Done()
	return nil
}
func (f *fakeBroker) Health(context.Context) broker.Status { return f.status }
func (f *fakeBroker) Close() error                          { return nil }

type fakeStats struct {
	subscribed bool
}

func (f *fakeStats) Stats() Stats     { return Stats{} }
func (f *fakeStats) Subscribed() bool { return f.subscribed }

func TestHealthServer_HealthzReflectsBrokerConnectivity(t *testing.T) {
	b := &fakeBroker{status: broker.Status{Connected: false}}
	h := NewHealthServer(Config{WorkerType: "intake"}, b, &fakeStats{subscribed: true})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	h.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	b.status = broker.Status{Connected: true}
	rec = httptest.NewRecorder()
	h.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthServer_ReadyzReflectsSubscriptionNotBroker(t *testing.T) {
	b := &fakeBroker{status: broker.Status{Connected: false}}
	stats := &fakeStats{subscribed: false}
	h := NewHealthServer(Config{WorkerType: "intake"}, b, stats)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	h.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Broker still disconnected, but the consume loop is subscribed: readyz
	// must not depend on broker connectivity (spec section 4.12).
	stats.subscribed = true
	rec = httptest.NewRecorder()
	h.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
