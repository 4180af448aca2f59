package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRecordProcessed_NoTenantLabelByDefault(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, false)
	m.RecordProcessed("IntakeWorker", "ExceptionIngested", "tenant-a", 0.25)

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "exceptionflow_events_processed_total" {
			found = true
			for _, metric := range f.GetMetric() {
				for _, l := range metric.GetLabel() {
					require.NotEqual(t, "tenant_id", l.GetName())
				}
			}
		}
	}
	require.True(t, found)
}

func TestRecordProcessed_IncludesTenantWhenEnabled(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, true)
	m.RecordProcessed("IntakeWorker", "ExceptionIngested", "tenant-a", 0.1)

	families, err := reg.Gather()
	require.NoError(t, err)
	var labels []*dto.LabelPair
	for _, f := range families {
		if f.GetName() == "exceptionflow_events_processed_total" {
			labels = f.GetMetric()[0].GetLabel()
		}
	}
	var hasTenant bool
	for _, l := range labels {
		if l.GetName() == "tenant_id" {
			hasTenant = true
		}
	}
	require.True(t, hasTenant)
}

func TestDLQGaugeMethods(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, false)
	m.IncRetryScheduled("ExceptionIngested", "IntakeWorker")
	m.IncDeadLettered("ExceptionIngested", "IntakeWorker")
	m.SetDLQDepth("tenant-a", "IntakeWorker", 3)
}

func TestInProcessing_TracksConcurrentHandlersNotJustLastExit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, false)

	m.IncInProcessing("IntakeWorker", "")
	m.IncInProcessing("IntakeWorker", "")
	require.Equal(t, 2.0, gaugeValue(t, reg, "exceptionflow_events_in_processing"))

	m.DecInProcessing("IntakeWorker", "")
	require.Equal(t, 1.0, gaugeValue(t, reg, "exceptionflow_events_in_processing"),
		"one handler finishing must not reset the gauge for the one still in flight")

	m.DecInProcessing("IntakeWorker", "")
	require.Equal(t, 0.0, gaugeValue(t, reg, "exceptionflow_events_in_processing"))
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric family %s not found", name)
	return 0
}
