// Package metrics exposes daemon internals to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the daemon counters and gauges. A nil *Metrics is valid and
// records nothing, so components can be used without a registry.
type Metrics struct {
	Commands          *prometheus.CounterVec // labels: command, result
	Unsolicited       prometheus.Counter
	LinkLost          prometheus.Counter
	Phase             *prometheus.GaugeVec // labels: phase
	ReconnectAttempts prometheus.Counter
	Escalations       prometheus.Counter
	BatteryPercent    prometheus.Gauge
	TelemetryVolts    prometheus.Gauge
	TelemetryAmps     prometheus.Gauge
	TelemetryWatts    prometheus.Gauge
}

// New registers and returns daemon metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freegie_commands_total",
			Help: "Commands sent to the accessory by result.",
		}, []string{"command", "result"}),
		Unsolicited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freegie_unsolicited_notifications_total",
			Help: "Notifications discarded because no waiter expected them.",
		}),
		LinkLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freegie_link_lost_total",
			Help: "Unexpected link drops reported by the platform.",
		}),
		Phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "freegie_phase",
			Help: "1 for the current engine phase, 0 otherwise.",
		}, []string{"phase"}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freegie_reconnect_attempts_total",
			Help: "Reconnection attempts.",
		}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freegie_escalations_total",
			Help: "Forced disconnects after inconsistent or unresponsive links.",
		}),
		BatteryPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "freegie_battery_percent",
			Help: "Last battery percentage read from the OS.",
		}),
		TelemetryVolts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "freegie_telemetry_volts",
			Help: "Last voltage reported by the accessory.",
		}),
		TelemetryAmps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "freegie_telemetry_amps",
			Help: "Last current reported by the accessory.",
		}),
		TelemetryWatts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "freegie_telemetry_watts",
			Help: "Last power derived from accessory telemetry.",
		}),
	}
	reg.MustRegister(
		m.Commands, m.Unsolicited, m.LinkLost, m.Phase, m.ReconnectAttempts,
		m.Escalations, m.BatteryPercent, m.TelemetryVolts, m.TelemetryAmps, m.TelemetryWatts,
	)
	return m
}

// ObserveCommand counts one command exchange.
func (m *Metrics) ObserveCommand(command, result string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(command, result).Inc()
}

// ObserveUnsolicited counts n discarded notifications.
func (m *Metrics) ObserveUnsolicited(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Unsolicited.Add(float64(n))
}

// ObserveLinkLost counts one unexpected drop.
func (m *Metrics) ObserveLinkLost() {
	if m == nil {
		return
	}
	m.LinkLost.Inc()
}

// SetPhase marks phase as current among all.
func (m *Metrics) SetPhase(phase string, all []string) {
	if m == nil {
		return
	}
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.Phase.WithLabelValues(p).Set(v)
	}
}

// ObserveReconnectAttempt counts one reconnection attempt.
func (m *Metrics) ObserveReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// ObserveEscalation counts one forced disconnect.
func (m *Metrics) ObserveEscalation() {
	if m == nil {
		return
	}
	m.Escalations.Inc()
}

// SetBatteryPercent records the last OS reading.
func (m *Metrics) SetBatteryPercent(p int) {
	if m == nil {
		return
	}
	m.BatteryPercent.Set(float64(p))
}

// SetTelemetry records the last accessory reading.
func (m *Metrics) SetTelemetry(volts, amps, watts float64) {
	if m == nil {
		return
	}
	m.TelemetryVolts.Set(volts)
	m.TelemetryAmps.Set(amps)
	m.TelemetryWatts.Set(watts)
}
