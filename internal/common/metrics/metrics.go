// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_messages_sent_total",
			Help: "Total number of outreach messages accepted by a provider",
		},
		[]string{"channel"},
	)

	MessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_messages_failed_total",
			Help: "Total number of outreach messages that failed permanently",
		},
		[]string{"channel", "error_code"},
	)

	MessagesBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_messages_blocked_total",
			Help: "Total number of messages blocked by the DNC/opt-out gate at send time",
		},
		[]string{"channel"},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "outreach_send_duration_seconds",
			Help: "Duration of provider send calls in seconds",
		},
		[]string{"channel"},
	)

	WebhookEventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_processed_total",
			Help: "Total number of provider webhook events applied",
		},
		[]string{"kind"},
	)

	WebhookEventsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_events_duplicate_total",
			Help: "Total number of redelivered webhook events ignored by the idempotency check",
		},
	)

	WebhookEventsStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_events_stale_total",
			Help: "Total number of webhook events matching no known message",
		},
	)

	DNCPropagations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dnc_propagations_total",
			Help: "Total number of opt-out events propagated to the patient DNC flag",
		},
	)
)
