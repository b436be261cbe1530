// Package mime turns raw message bytes into normalized content:
// a plain-text body, the content type it came from, and attachment
// descriptors, in document order.
package mime

import (
	"bytes"
	"fmt"
	"io"
	stdmail "net/mail"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/jaytaylor/html2text"
	"go.uber.org/zap"
)

// Attachment describes one extracted attachment. Bytes are carried so
// the caller can hand them to a storage collaborator; this package does
// not persist them.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// Content is the normalized result of extracting one message.
// ContentType records the type of the part the body came from
// ("text/plain" or "text/html") before any HTML conversion.
type Content struct {
	Subject     string
	MessageID   string
	InReplyTo   string
	References  string
	Headers     map[string]string
	Body        string
	ContentType string
	Attachments []Attachment
}

var extensionByType = map[string]string{
	"text/plain":         ".txt",
	"text/html":          ".html",
	"application/json":   ".json",
	"application/pdf":    ".pdf",
	"image/jpeg":         ".jpg",
	"image/png":          ".png",
	"image/gif":          ".gif",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.ms-powerpoint": ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"application/zip":              ".zip",
	"application/x-rar-compressed": ".rar",
	"application/x-gzip":           ".gz",
	"application/x-tar":            ".tar",
}

type Extractor struct {
	logger *zap.Logger
}

func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract walks the message parts in document order and produces
// normalized content. Extraction is best effort: a decode failure on
// one part is logged and skipped without aborting the rest.
func (e *Extractor) Extract(raw []byte) *Content {
	c := &Content{
		ContentType: "text/plain",
		Headers:     make(map[string]string),
	}

	e.collectHeaders(raw, c)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		e.logger.Warn("Failed to open message reader, treating body as plain text",
			zap.Error(err),
		)
		e.extractFallback(raw, c)
		return c
	}
	defer mr.Close()

	if subj, err := mr.Header.Subject(); err == nil && strings.TrimSpace(subj) != "" {
		c.Subject = strings.TrimSpace(subj)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			e.logger.Warn("Failed to read message part, skipping", zap.Error(err))
			continue
		}

		switch h := part.Header.(type) {
		case *mail.AttachmentHeader:
			contentType, _, _ := h.ContentType()
			data, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				e.logger.Warn("Failed to decode attachment, skipping",
					zap.String("content_type", contentType),
					zap.Error(readErr),
				)
				continue
			}

			filename, _ := h.Filename()
			if filename == "" {
				filename = generateFilename(contentType)
			}

			c.Attachments = append(c.Attachments, Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        int64(len(data)),
				Data:        data,
			})

		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			if c.Body != "" {
				// Body already selected; later parts never overwrite it.
				continue
			}
			if contentType != "text/plain" && contentType != "text/html" {
				continue
			}

			data, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				e.logger.Warn("Failed to decode body part, skipping",
					zap.String("content_type", contentType),
					zap.Error(readErr),
				)
				continue
			}

			c.ContentType = contentType
			c.Body = string(data)
			if contentType == "text/html" {
				c.Body = e.htmlToText(c.Body)
			}
		}
	}

	return c
}

// collectHeaders fills the raw header mapping and threading fields.
// Duplicate keys are joined so multi-valued headers survive.
func (e *Extractor) collectHeaders(raw []byte, c *Content) {
	msg, err := stdmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		e.logger.Warn("Failed to parse message headers", zap.Error(err))
		return
	}

	for key, values := range msg.Header {
		c.Headers[key] = strings.Join(values, ", ")
	}

	c.Subject = strings.TrimSpace(msg.Header.Get("Subject"))
	c.MessageID = msg.Header.Get("Message-Id")
	c.InReplyTo = msg.Header.Get("In-Reply-To")
	c.References = msg.Header.Get("References")
}

// extractFallback handles messages the MIME reader cannot open: the
// bytes after the header block become the body verbatim.
func (e *Extractor) extractFallback(raw []byte, c *Content) {
	msg, err := stdmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		c.Body = strings.TrimSpace(string(raw))
		return
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		e.logger.Warn("Failed to read message body", zap.Error(err))
		return
	}

	contentType := msg.Header.Get("Content-Type")
	if strings.HasPrefix(strings.ToLower(contentType), "text/html") {
		c.ContentType = "text/html"
		c.Body = e.htmlToText(string(body))
		return
	}

	c.Body = string(body)
}

// htmlToText renders HTML as readable plain text, keeping link targets
// and image references as inline markers.
func (e *Extractor) htmlToText(html string) string {
	text, err := html2text.FromString(html)
	if err != nil {
		e.logger.Warn("HTML conversion failed, keeping raw markup", zap.Error(err))
		return html
	}
	return text
}

// generateFilename synthesizes a collision-resistant name for an
// attachment that arrived without one.
func generateFilename(contentType string) string {
	ext, ok := extensionByType[contentType]
	if !ok {
		ext = ".bin"
	}
	return fmt.Sprintf("attachment_%s%s", uuid.NewString(), ext)
}
