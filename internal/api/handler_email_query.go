package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"mailbridge/internal/model"
	"mailbridge/internal/repository"
)

type EmailQueryHandler struct {
	emailRepo      *repository.EmailRepository
	attachmentRepo *repository.AttachmentRepository
}

func NewEmailQueryHandler(emailRepo *repository.EmailRepository, attachmentRepo *repository.AttachmentRepository) *EmailQueryHandler {
	return &EmailQueryHandler{
		emailRepo:      emailRepo,
		attachmentRepo: attachmentRepo,
	}
}

type emailView struct {
	ID          int64          `json:"id"`
	MessageID   string         `json:"message_id"`
	Sender      string         `json:"sender"`
	Recipients  []string       `json:"recipients"`
	Subject     string         `json:"subject"`
	Category    string         `json:"category"`
	Status      string         `json:"status"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ReceivedAt  any            `json:"received_at,omitempty"`
	ProcessedAt any            `json:"processed_at,omitempty"`
	SentAt      any            `json:"sent_at,omitempty"`
}

func toView(e *model.EmailRecord) emailView {
	v := emailView{
		ID:         e.ID,
		MessageID:  e.MessageID,
		Sender:     e.Sender,
		Recipients: e.RecipientList(),
		Subject:    e.Subject,
		Category:   string(e.Category),
		Status:     string(e.Status),
		Error:      e.Error,
		Metadata:   e.Metadata,
	}
	if e.ReceivedAt != nil {
		v.ReceivedAt = e.ReceivedAt
	}
	if e.ProcessedAt != nil {
		v.ProcessedAt = e.ProcessedAt
	}
	if e.SentAt != nil {
		v.SentAt = e.SentAt
	}
	return v
}

// ListEmails handles GET /emails
func (h *EmailQueryHandler) ListEmails(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	emails, err := h.emailRepo.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch emails"})
		return
	}

	views := make([]emailView, 0, len(emails))
	for i := range emails {
		views = append(views, toView(&emails[i]))
	}

	c.JSON(http.StatusOK, gin.H{"emails": views})
}

// GetEmail handles GET /emails/:id
func (h *EmailQueryHandler) GetEmail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email id"})
		return
	}

	email, err := h.emailRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		if err == pgx.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch email"})
		return
	}

	attachments, err := h.attachmentRepo.ListByEmailID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch attachments"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"email":       toView(email),
		"body":        email.Body,
		"attachments": attachments,
	})
}
