// Package metrics registers the Prometheus collectors of the control loop
// and the controller link.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Control loop
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridctl",
		Subsystem: "engine",
		Name:      "cycles_total",
		Help:      "Total control cycles run",
	})

	CycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridctl",
		Subsystem: "engine",
		Name:      "cycle_errors_total",
		Help:      "Recoverable errors reported by control cycles, by kind",
	}, []string{"kind"})

	CycleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gridctl",
		Subsystem: "engine",
		Name:      "cycle_duration_seconds",
		Help:      "Control cycle duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	Reconfigurations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridctl",
		Subsystem: "engine",
		Name:      "reconfigurations_total",
		Help:      "Times the link was reopened and filter state rebuilt",
	})

	ConfigEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridctl",
		Subsystem: "engine",
		Name:      "config_epoch",
		Help:      "Configuration epoch in effect",
	})

	// Fans
	FanTargetLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gridctl",
		Subsystem: "fan",
		Name:      "target_level_percent",
		Help:      "Target level computed for each fan channel",
	}, []string{"channel"})

	FanConfirmedLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gridctl",
		Subsystem: "fan",
		Name:      "confirmed_level_percent",
		Help:      "Last level acknowledged by the controller, -1 if unknown",
	}, []string{"channel"})

	FanRPM = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gridctl",
		Subsystem: "fan",
		Name:      "rpm",
		Help:      "Fan speed read back from the controller",
	}, []string{"channel"})

	// Signals
	SignalValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gridctl",
		Subsystem: "signal",
		Name:      "value_celsius",
		Help:      "Aggregated signal value",
	}, []string{"signal"})

	// Link
	LinkConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridctl",
		Subsystem: "link",
		Name:      "connected",
		Help:      "1 when the controller handshake succeeded and no fault occurred since",
	})

	LinkWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridctl",
		Subsystem: "link",
		Name:      "level_writes_total",
		Help:      "Set-level commands sent",
	})

	LinkFaults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gridctl",
		Subsystem: "link",
		Name:      "faults_total",
		Help:      "Transport faults that moved the link to the faulted state",
	})
)

// Channel formats a channel id as a label value.
func Channel(ch int) string {
	return strconv.Itoa(ch)
}
