package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailbridge/internal/apiclient"
	"mailbridge/internal/classify"
	"mailbridge/internal/mime"
	"mailbridge/internal/model"
	"mailbridge/internal/notify"
	"mailbridge/internal/request"
	"mailbridge/pkg/logger"
	"mailbridge/pkg/metrics"
)

// EmailStore is the persistence contract for email records. Each call
// is transactional on its own; the processor never spans transactions.
type EmailStore interface {
	Create(ctx context.Context, e *model.EmailRecord) error
	Update(ctx context.Context, e *model.EmailRecord) error
	GetByID(ctx context.Context, id int64) (*model.EmailRecord, error)
}

// AttachmentStore persists attachment descriptors.
type AttachmentStore interface {
	Create(ctx context.Context, a *model.EmailAttachment) error
}

// InfraAPI creates infrastructure requests on the external API.
type InfraAPI interface {
	CreateRequest(ctx context.Context, req *request.InfraRequest) (*apiclient.RequestResult, error)
}

// Suppressor records senders that must not receive automated replies.
type Suppressor interface {
	Suppress(ctx context.Context, addr string) error
}

// Deduper guards against reprocessing a retried submission.
type Deduper interface {
	AcquireOnce(ctx context.Context, scope, key string) bool
	Release(ctx context.Context, scope, key string)
}

const dedupScopeInbound = "inbound"

// Processor drives one inbound message through extraction,
// classification and routing, and owns the RECEIVED -> PROCESSED|FAILED
// status transition of the resulting record.
type Processor struct {
	extractor   *mime.Extractor
	emails      EmailStore
	attachments AttachmentStore
	infraAPI    InfraAPI
	notifier    notify.Notifier
	suppressor  Suppressor
	deduper     Deduper
	logger      *zap.Logger
}

func NewProcessor(
	extractor *mime.Extractor,
	emails EmailStore,
	attachments AttachmentStore,
	infraAPI InfraAPI,
	notifier notify.Notifier,
	suppressor Suppressor,
	deduper Deduper,
	log *zap.Logger,
) *Processor {
	return &Processor{
		extractor:   extractor,
		emails:      emails,
		attachments: attachments,
		infraAPI:    infraAPI,
		notifier:    notifier,
		suppressor:  suppressor,
		deduper:     deduper,
		logger:      log,
	}
}

// Process handles one accepted submission synchronously. An error
// return means no durable record of the message exists or the handling
// failed transiently; the listener answers with a temporary-failure
// code so the submitting agent retries.
func (p *Processor) Process(ctx context.Context, msg *model.InboundMessage) error {
	log := logger.WithTrace(ctx, p.logger)

	content := p.extractor.Extract(msg.Raw)

	messageID := content.MessageID
	if messageID == "" {
		messageID = fmt.Sprintf("<%s@mailbridge>", uuid.NewString())
	}

	if p.deduper != nil && !p.deduper.AcquireOnce(ctx, dedupScopeInbound, messageID) {
		log.Info("Duplicate submission, already handled",
			zap.String("message_id", messageID),
		)
		return nil
	}

	category := classify.Classify(content.Subject, content.Body, msg.Sender, msg.Recipients)

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	rec := &model.EmailRecord{
		MessageID:   messageID,
		InReplyTo:   content.InReplyTo,
		References:  content.References,
		Sender:      msg.Sender,
		Subject:     content.Subject,
		Body:        content.Body,
		ContentType: content.ContentType,
		Category:    category,
		Status:      model.StatusReceived,
		Metadata: map[string]any{
			"headers":   content.Headers,
			"source_ip": msg.RemoteAddr,
		},
		ReceivedAt: &receivedAt,
	}
	rec.SetRecipients(msg.Recipients)

	if err := p.emails.Create(ctx, rec); err != nil {
		// No record exists; report unprocessed upstream so the MTA
		// retries instead of losing the message.
		if p.deduper != nil {
			p.deduper.Release(ctx, dedupScopeInbound, messageID)
		}
		return fmt.Errorf("failed to create email record: %w", err)
	}

	log.Info("Inbound email recorded",
		zap.Int64("email_id", rec.ID),
		zap.String("message_id", messageID),
		zap.String("sender", msg.Sender),
		zap.String("category", string(category)),
		zap.Int("attachments", len(content.Attachments)),
	)

	p.saveAttachments(ctx, rec.ID, content.Attachments)

	if err := p.HandleRecord(ctx, rec); err != nil {
		if p.deduper != nil {
			p.deduper.Release(ctx, dedupScopeInbound, messageID)
		}
		return err
	}
	return nil
}

// HandleRecord runs the category handler for rec and transitions it to
// a terminal status. Invoking it on an already-terminal record is a
// no-op; the processed timestamp is set at most once. Even when the
// owning session is cancelled mid-flight, the final status write is
// attempted so no record is left RECEIVED indefinitely.
func (p *Processor) HandleRecord(ctx context.Context, rec *model.EmailRecord) error {
	if rec.Status.Terminal() {
		return nil
	}

	log := logger.WithTrace(ctx, p.logger)

	routeErr := p.route(ctx, rec)

	now := time.Now()
	if routeErr != nil {
		rec.MarkFailed(now, routeErr.Error())
		log.Error("Email handling failed",
			zap.Int64("email_id", rec.ID),
			zap.String("category", string(rec.Category)),
			zap.Error(routeErr),
		)
	} else {
		rec.MarkProcessed(now)
	}

	// The status write must survive session cancellation.
	updateCtx := context.WithoutCancel(ctx)
	if err := p.emails.Update(updateCtx, rec); err != nil {
		log.Error("Failed to persist email status",
			zap.Int64("email_id", rec.ID),
			zap.String("status", string(rec.Status)),
			zap.Error(err),
		)
		metrics.RecordEmailProcessed(string(model.StatusFailed), string(rec.Category))
		return fmt.Errorf("failed to persist email status: %w", err)
	}

	metrics.RecordEmailProcessed(string(rec.Status), string(rec.Category))

	return routeErr
}

// route dispatches on the category. The switch is exhaustive over the
// closed category set; adding a category without a handler arm is a
// compile-visible change here.
func (p *Processor) route(ctx context.Context, rec *model.EmailRecord) error {
	log := logger.WithTrace(ctx, p.logger)

	switch rec.Category {
	case model.CategoryInfraRequest:
		return p.handleInfraRequest(ctx, rec)

	case model.CategoryUnsubscribe:
		return p.handleUnsubscribe(ctx, rec)

	case model.CategoryAutoReply, model.CategoryBounce:
		if err := p.suppressor.Suppress(ctx, rec.Sender); err != nil {
			// Suppression is advisory; a store hiccup must not fail
			// the message.
			log.Warn("Failed to record suppression",
				zap.String("sender", rec.Sender),
				zap.Error(err),
			)
		}
		log.Info("Automated mail recorded, no reply will be sent",
			zap.Int64("email_id", rec.ID),
			zap.String("category", string(rec.Category)),
			zap.String("sender", rec.Sender),
		)
		return nil

	case model.CategoryStandard, model.CategoryOutgoing:
		log.Info("Standard email recorded",
			zap.Int64("email_id", rec.ID),
			zap.String("sender", rec.Sender),
			zap.String("subject", rec.Subject),
		)
		return nil
	}

	return fmt.Errorf("unhandled email category: %s", rec.Category)
}

func (p *Processor) handleInfraRequest(ctx context.Context, rec *model.EmailRecord) error {
	req := request.Parse(rec.Subject, rec.Body, rec.Sender)

	result, err := p.infraAPI.CreateRequest(ctx, req)
	if err != nil {
		// Tell the requestor their request went nowhere. Best effort:
		// the record is marked FAILED either way.
		tctx := map[string]any{
			"title": req.Title,
			"error": err.Error(),
		}
		if nerr := p.notifier.RenderAndSend(ctx, rec.ID, notify.TemplateInfraRequestFailed, rec.Sender, tctx); nerr != nil {
			logger.WithTrace(ctx, p.logger).Warn("Failed to request failure notification",
				zap.Int64("email_id", rec.ID),
				zap.Error(nerr),
			)
		}
		return fmt.Errorf("infrastructure request failed: %w", err)
	}

	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any)
	}
	rec.Metadata["infra_request_id"] = result.ID
	rec.Metadata["api_response"] = result.Raw

	createdAt := result.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339)
	}
	status := result.Status
	if status == "" {
		status = "received"
	}

	tctx := map[string]any{
		"request_id":  result.ID,
		"title":       req.Title,
		"description": req.Description,
		"status":      status,
		"priority":    req.Priority,
		"environment": req.Environment,
		"created_at":  createdAt,
		"user_email":  rec.Sender,
	}

	if err := p.notifier.RenderAndSend(ctx, rec.ID, notify.TemplateInfraRequestConfirmation, rec.Sender, tctx); err != nil {
		return fmt.Errorf("failed to request confirmation notification: %w", err)
	}

	return nil
}

func (p *Processor) handleUnsubscribe(ctx context.Context, rec *model.EmailRecord) error {
	log := logger.WithTrace(ctx, p.logger)
	log.Info("Processing unsubscribe request",
		zap.Int64("email_id", rec.ID),
		zap.String("sender", rec.Sender),
	)

	tctx := map[string]any{
		"email":            rec.Sender,
		"unsubscribe_date": time.Now().UTC().Format("2006-01-02 15:04:05"),
	}

	return p.notifier.RenderAndSend(ctx, rec.ID, notify.TemplateUnsubscribeConfirmation, rec.Sender, tctx)
}

// saveAttachments persists descriptors one by one; a failure on one
// attachment is logged and does not abort the rest.
func (p *Processor) saveAttachments(ctx context.Context, emailID int64, attachments []mime.Attachment) {
	log := logger.WithTrace(ctx, p.logger)

	for _, att := range attachments {
		rec := &model.EmailAttachment{
			EmailID:     emailID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        att.Size,
			StoragePath: fmt.Sprintf("attachments/%d/%s", emailID, att.Filename),
		}
		if err := p.attachments.Create(ctx, rec); err != nil {
			log.Error("Failed to persist attachment",
				zap.Int64("email_id", emailID),
				zap.String("filename", att.Filename),
				zap.Error(err),
			)
			continue
		}
		log.Info("Attachment recorded",
			zap.Int64("email_id", emailID),
			zap.String("filename", att.Filename),
			zap.Int64("size", att.Size),
			zap.String("storage_path", rec.StoragePath),
		)
	}
}
