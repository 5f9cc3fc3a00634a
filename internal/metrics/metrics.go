package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll metrics
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmcmon_poll_cycles_total",
			Help: "Total number of poll cycles per entity",
		},
		[]string{"entity", "status"}, // status: success, failed, skipped
	)

	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bmcmon_poll_cycle_duration_seconds",
			Help:    "Duration of a full poll cycle",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// Alert check metrics. Failed secondary checks are deliberately treated
	// as condition-absent for the cycle; this counter keeps them observable.
	CheckFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmcmon_check_failures_total",
			Help: "Total number of alert checks skipped because the sensor query failed",
		},
		[]string{"kind"},
	)

	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmcmon_alert_transitions_total",
			Help: "Total number of alert activations and clears",
		},
		[]string{"kind", "direction"}, // direction: activated, cleared
	)

	LiveAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bmcmon_live_alerts",
			Help: "Current number of live alerts",
		},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmcmon_notifications_total",
			Help: "Total number of notification deliveries attempted",
		},
		[]string{"provider", "status"}, // status: sent, failed
	)

	// Fan control metrics
	FanCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bmcmon_fan_commands_total",
			Help: "Total number of fan speed commands issued",
		},
		[]string{"entity", "status"},
	)
)
