package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmailProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_processed_count",
			Help: "Total number of inbound emails processed",
		},
		[]string{"status", "category"},
	)

	SMTPSessionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtp_session_count",
			Help: "Total number of SMTP sessions accepted",
		},
		[]string{"outcome"}, // outcome: delivered, rejected, aborted
	)

	SMTPAuthFailureCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smtp_auth_failure_count",
			Help: "Total number of failed SMTP authentication attempts",
		},
	)

	InfraAPICallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "infra_api_call_latency_ms",
			Help:    "Infrastructure API call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"status"},
	)

	NotificationSendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_send_latency_ms",
			Help:    "Outbound notification delivery latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"template", "status"},
	)
)

func RecordEmailProcessed(status, category string) {
	EmailProcessedCount.WithLabelValues(status, category).Inc()
}

func RecordSMTPSession(outcome string) {
	SMTPSessionCount.WithLabelValues(outcome).Inc()
}

func RecordSMTPAuthFailure() {
	SMTPAuthFailureCount.Inc()
}

func RecordInfraAPICall(status string, duration time.Duration) {
	InfraAPICallLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func RecordNotificationSend(template, status string, duration time.Duration) {
	NotificationSendLatency.WithLabelValues(template, status).Observe(float64(duration.Milliseconds()))
}
