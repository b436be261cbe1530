package model

import (
	"strings"
	"time"
)

// EmailStatus is the lifecycle state of an EmailRecord. Inbound records
// move RECEIVED -> PROCESSED|FAILED; outbound records move
// PENDING -> SENT|FAILED. Terminal states never transition again.
type EmailStatus string

const (
	StatusReceived  EmailStatus = "RECEIVED"
	StatusProcessed EmailStatus = "PROCESSED"
	StatusFailed    EmailStatus = "FAILED"
	StatusPending   EmailStatus = "PENDING"
	StatusSent      EmailStatus = "SENT"
)

// Terminal reports whether no further status transition is allowed.
func (s EmailStatus) Terminal() bool {
	switch s {
	case StatusProcessed, StatusFailed, StatusSent:
		return true
	}
	return false
}

// EmailCategory is the closed set of classifications. Exactly one
// category is assigned per message. OUTGOING is only ever assigned by
// the outbound send path, never by the classifier.
type EmailCategory string

const (
	CategoryStandard     EmailCategory = "STANDARD"
	CategoryAutoReply    EmailCategory = "AUTO_REPLY"
	CategoryBounce       EmailCategory = "BOUNCE"
	CategoryUnsubscribe  EmailCategory = "UNSUBSCRIBE"
	CategoryInfraRequest EmailCategory = "INFRA_REQUEST"
	CategoryOutgoing     EmailCategory = "OUTGOING"
)

// EmailRecord is the persisted representation of one message, inbound
// or outbound. Recipients are stored comma-joined but are semantically
// an ordered sequence; use RecipientList/SetRecipients.
type EmailRecord struct {
	ID          int64
	MessageID   string
	InReplyTo   string
	References  string
	Sender      string
	Recipients  string
	Subject     string
	Body        string
	ContentType string
	Category    EmailCategory
	Status      EmailStatus
	Error       string
	Metadata    map[string]any
	ReceivedAt  *time.Time
	ProcessedAt *time.Time
	SentAt      *time.Time
	CreatedAt   time.Time
}

// RecipientList returns the recipients as an ordered slice.
func (r *EmailRecord) RecipientList() []string {
	if r.Recipients == "" {
		return nil
	}
	parts := strings.Split(r.Recipients, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SetRecipients stores an ordered recipient list in comma-joined form.
func (r *EmailRecord) SetRecipients(addrs []string) {
	r.Recipients = strings.Join(addrs, ",")
}

// MarkProcessed transitions the record to PROCESSED. The processed
// timestamp is set at most once.
func (r *EmailRecord) MarkProcessed(now time.Time) {
	r.Status = StatusProcessed
	if r.ProcessedAt == nil {
		r.ProcessedAt = &now
	}
}

// MarkFailed transitions the record to FAILED and captures the error
// text. The processed timestamp is set at most once.
func (r *EmailRecord) MarkFailed(now time.Time, errText string) {
	r.Status = StatusFailed
	r.Error = errText
	if r.ProcessedAt == nil {
		r.ProcessedAt = &now
	}
}

// MarkSent transitions an outbound record to SENT. The sent timestamp
// is set at most once.
func (r *EmailRecord) MarkSent(now time.Time) {
	r.Status = StatusSent
	if r.SentAt == nil {
		r.SentAt = &now
	}
}

// EmailAttachment is the persisted descriptor of one attachment, owned
// by its EmailRecord. Byte persistence is an external concern; the
// record only carries a storage-path placeholder.
type EmailAttachment struct {
	ID          int64
	EmailID     int64
	Filename    string
	ContentType string
	Size        int64
	StoragePath string
	CreatedAt   time.Time
}
