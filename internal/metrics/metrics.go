package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobRuns counts job executions by job and result (ok, error, skipped)
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nicept",
		Name:      "job_runs_total",
		Help:      "Scheduled and manual job executions.",
	}, []string{"job", "result"})

	// JobDuration observes how long each job takes
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nicept",
		Name:      "job_duration_seconds",
		Help:      "Job execution time.",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"job"})

	// TorrentsDispatched counts torrents added to a downloader by rules
	TorrentsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nicept",
		Name:      "torrents_dispatched_total",
		Help:      "Torrents dispatched to downloaders.",
	}, []string{"rule"})

	// AutoDeleteActions counts pause and delete actions by resulting status
	AutoDeleteActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nicept",
		Name:      "auto_delete_actions_total",
		Help:      "Torrents paused or deleted by the retention policy.",
	}, []string{"action"})

	// HRChanges counts H&R records created or updated by sync
	HRChanges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nicept",
		Name:      "hr_records_changed_total",
		Help:      "H&R records written by tracker sync.",
	})

	// ExpiryTimers is the number of armed per-torrent expiry timers
	ExpiryTimers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nicept",
		Name:      "expiry_timers",
		Help:      "Armed promotion expiry timers.",
	})
)
