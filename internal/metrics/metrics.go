package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remindd_cycles_total",
		Help: "Total number of completed dispatch cycles.",
	})

	CyclesAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remindd_cycles_aborted_total",
		Help: "Total number of cycles aborted by a store failure.",
	})

	RemindersSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remindd_reminders_sent_total",
		Help: "Total number of reminders delivered and committed as sent.",
	})

	RemindersFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remindd_reminders_failed_total",
		Help: "Total number of delivery attempts that failed and stayed pending.",
	})

	ManualDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remindd_manual_dispatches_total",
		Help: "Total number of manual trigger invocations, labelled by outcome.",
	}, []string{"outcome"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "remindd_cycle_duration_seconds",
		Help:    "Wall-clock duration of one dispatch cycle.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	})

	PendingReminders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "remindd_pending_reminders",
		Help: "Events whose reminder has not yet been recorded as sent.",
	})
)
