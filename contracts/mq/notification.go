// Package mq holds the event payloads shared between the bridge
// process and the notifier worker.
package mq

import "time"

// RoutingKeyNotificationRequested is published when the pipeline wants
// a templated confirmation delivered to a recipient.
const RoutingKeyNotificationRequested = "notification.requested"

type NotificationRequestedPayload struct {
	EmailID     int64          `json:"email_id"`
	Template    string         `json:"template"`
	Recipient   string         `json:"recipient"`
	Context     map[string]any `json:"context"`
	RequestedAt time.Time      `json:"requested_at"`
}
