// Package notify carries the notification contract: the pipeline asks
// for a rendered template to be delivered, the notifier worker renders
// and sends it.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	contracts "mailbridge/contracts/mq"
	"mailbridge/pkg/mq"
)

// Notifier requests delivery of a rendered notification. The pipeline
// never formats outbound bodies itself; it only supplies structured
// context for a named template.
type Notifier interface {
	RenderAndSend(ctx context.Context, emailID int64, template, recipient string, tctx map[string]any) error
}

// MQNotifier publishes notification requests to the events exchange
// where the notifier worker picks them up. When disabled it drops
// requests with a log line, which keeps the pipeline side-effect free
// in environments without a relay.
type MQNotifier struct {
	publisher *mq.Publisher
	enabled   bool
	logger    *zap.Logger
}

func NewMQNotifier(publisher *mq.Publisher, enabled bool, logger *zap.Logger) *MQNotifier {
	return &MQNotifier{
		publisher: publisher,
		enabled:   enabled,
		logger:    logger,
	}
}

func (n *MQNotifier) RenderAndSend(ctx context.Context, emailID int64, template, recipient string, tctx map[string]any) error {
	if !n.enabled {
		n.logger.Info("Outbound notifications disabled, dropping request",
			zap.String("template", template),
			zap.String("recipient", recipient),
		)
		return nil
	}

	payload := contracts.NotificationRequestedPayload{
		EmailID:     emailID,
		Template:    template,
		Recipient:   recipient,
		Context:     tctx,
		RequestedAt: time.Now(),
	}

	return n.publisher.Publish(contracts.RoutingKeyNotificationRequested, payload)
}
