package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCommand("AT+STAT?", "ok")
	m.ObserveUnsolicited(3)
	m.ObserveLinkLost()
	m.SetPhase("idle", []string{"idle"})
	m.ObserveReconnectAttempt()
	m.ObserveEscalation()
	m.SetBatteryPercent(50)
	m.SetTelemetry(1, 2, 2)
}

func TestMetrics(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)

	m.ObserveCommand("AT+PIO20", "ok")
	m.ObserveCommand("AT+PIO20", "ok")
	m.ObserveCommand("AT+STAT?", "timeout")
	m.SetPhase("paused", []string{"charging", "paused"})

	if got := testutil.ToFloat64(m.Commands.WithLabelValues("AT+PIO20", "ok")); got != 2 {
		t.Errorf("commands ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Phase.WithLabelValues("paused")); got != 1 {
		t.Errorf("paused gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Phase.WithLabelValues("charging")); got != 0 {
		t.Errorf("charging gauge = %v, want 0", got)
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "freegie_commands_total") {
		t.Errorf("metrics output missing freegie_commands_total")
	}
}
