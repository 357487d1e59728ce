package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coop_jobs_processed_total",
			Help: "Jobs processed by the dispatcher, by type and outcome",
		},
		[]string{"job_type", "outcome"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coop_dispatcher_batch_seconds",
			Help:    "Duration of one dispatcher batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coop_notifications_sent_total",
			Help: "Notifications delivered, by channel",
		},
		[]string{"channel"},
	)

	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coop_notification_failures_total",
			Help: "Notification delivery failures, by channel",
		},
		[]string{"channel"},
	)

	WorkflowsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coop_workflows_started_total",
			Help: "Approval workflows created",
		},
	)

	WorkflowsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coop_workflows_completed_total",
			Help: "Approval workflows reaching a terminal status",
		},
		[]string{"status"},
	)
)

// Init registers all collectors with the default registry.
func Init() {
	prometheus.MustRegister(
		JobsProcessed,
		BatchDuration,
		NotificationsSent,
		NotificationFailures,
		WorkflowsStarted,
		WorkflowsCompleted,
	)
}
