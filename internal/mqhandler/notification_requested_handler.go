package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	contracts "mailbridge/contracts/mq"
	"mailbridge/internal/model"
	"mailbridge/internal/notify"
	"mailbridge/internal/service"
	"mailbridge/pkg/metrics"
	"mailbridge/pkg/mq"
	"mailbridge/pkg/util"
)

// SuppressionChecker answers whether automated mail to addr must be
// withheld.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, addr string) (bool, error)
}

// Sender delivers one rendered message over outbound SMTP.
type Sender interface {
	From() string
	Send(to, messageID, subject, body string) error
}

// NotificationRequestedHandler consumes notification.requested events,
// renders the named template and delivers the result over outbound
// SMTP. Each delivery is persisted as an OUTGOING email record moving
// PENDING -> SENT or PENDING -> FAILED. The record is written only once
// a send attempt has resolved, so a requeued delivery reruns the whole
// handler without leaving a duplicate or a dangling PENDING row behind.
type NotificationRequestedHandler struct {
	emails      service.EmailStore
	suppression SuppressionChecker
	sender      Sender
	dlq         *mq.Publisher
	logger      *zap.Logger
}

func NewNotificationRequestedHandler(
	emails service.EmailStore,
	suppression SuppressionChecker,
	sender Sender,
	dlq *mq.Publisher,
	logger *zap.Logger,
) *NotificationRequestedHandler {
	return &NotificationRequestedHandler{
		emails:      emails,
		suppression: suppression,
		sender:      sender,
		dlq:         dlq,
		logger:      logger,
	}
}

// HandleNotificationRequested processes one event. Returning an error
// requeues the delivery; permanent failures are routed to the DLQ and
// acked so they do not loop.
func (h *NotificationRequestedHandler) HandleNotificationRequested(ctx context.Context, raw json.RawMessage) error {
	var p contracts.NotificationRequestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal notification requested payload", zap.Error(err))
		// Malformed payloads never become deliverable; park them.
		h.publishToDLQ(raw, err)
		return nil
	}

	suppressed, err := h.suppression.IsSuppressed(ctx, p.Recipient)
	if err != nil {
		h.logger.Warn("Suppression check failed, sending anyway",
			zap.String("recipient", p.Recipient),
			zap.Error(err),
		)
	}
	if suppressed {
		h.logger.Info("Recipient suppressed, dropping notification",
			zap.Int64("email_id", p.EmailID),
			zap.String("recipient", p.Recipient),
			zap.String("template", p.Template),
		)
		return nil
	}

	subject, body, err := notify.Render(p.Template, p.Context)
	if err != nil {
		h.logger.Error("Failed to render notification template",
			zap.String("template", p.Template),
			zap.Error(err),
		)
		h.publishToDLQ(raw, err)
		return nil
	}

	now := time.Now()
	rec := &model.EmailRecord{
		MessageID:   fmt.Sprintf("<%s@mailbridge>", uuid.NewString()),
		Sender:      h.sender.From(),
		Subject:     subject,
		Body:        body,
		ContentType: "text/plain",
		Category:    model.CategoryOutgoing,
		Status:      model.StatusPending,
		Metadata: map[string]any{
			"template":         p.Template,
			"inbound_email_id": p.EmailID,
		},
		ReceivedAt: &now,
	}
	rec.SetRecipients([]string{p.Recipient})

	start := time.Now()
	sendErr := h.sender.Send(p.Recipient, rec.MessageID, subject, body)
	duration := time.Since(start)

	if sendErr != nil {
		retryable, class := util.IsRetryableError(sendErr)
		metrics.RecordNotificationSend(p.Template, "failed", duration)

		h.logger.Error("Notification delivery failed",
			zap.Int64("email_id", p.EmailID),
			zap.String("recipient", p.Recipient),
			zap.String("template", p.Template),
			zap.String("error_class", class),
			zap.Bool("retryable", retryable),
			zap.Error(sendErr),
		)

		if retryable {
			// Nothing persisted yet; the redelivery starts a clean
			// attempt and the record is created by whichever attempt
			// finally resolves.
			return sendErr
		}

		rec.MarkFailed(time.Now(), sendErr.Error())
		if err := h.emails.Create(context.WithoutCancel(ctx), rec); err != nil {
			h.logger.Error("Failed to persist outbound failure", zap.Error(err))
		}
		h.publishToDLQ(raw, sendErr)
		return nil
	}

	rec.MarkSent(time.Now())
	if err := h.emails.Create(context.WithoutCancel(ctx), rec); err != nil {
		h.logger.Error("Failed to persist outbound success",
			zap.String("message_id", rec.MessageID),
			zap.Error(err),
		)
	}

	metrics.RecordNotificationSend(p.Template, "sent", duration)

	h.logger.Info("Notification delivered",
		zap.Int64("outbound_id", rec.ID),
		zap.String("recipient", p.Recipient),
		zap.String("template", p.Template),
		zap.Duration("duration", duration),
	)

	return nil
}

func (h *NotificationRequestedHandler) publishToDLQ(raw json.RawMessage, cause error) {
	if h.dlq == nil {
		return
	}
	if err := h.dlq.PublishToDLQ(contracts.RoutingKeyNotificationRequested, raw, cause.Error()); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.Error(err))
	}
}
