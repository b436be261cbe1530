package mime

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestExtractor() *Extractor {
	return NewExtractor(zap.NewNop())
}

func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func TestExtract_SinglePartPlain(t *testing.T) {
	t.Parallel()

	raw := crlf(
		"From: sender@example.com",
		"To: infra@test.com",
		"Subject: Infra request: new queue",
		"Message-Id: <abc123@example.com>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Please provision a message queue.",
	)

	c := newTestExtractor().Extract(raw)

	if c.Subject != "Infra request: new queue" {
		t.Errorf("subject: got %q", c.Subject)
	}
	if c.MessageID != "<abc123@example.com>" {
		t.Errorf("message id: got %q", c.MessageID)
	}
	if c.ContentType != "text/plain" {
		t.Errorf("content type: got %q", c.ContentType)
	}
	if !strings.Contains(c.Body, "Please provision a message queue.") {
		t.Errorf("body: got %q", c.Body)
	}
	if len(c.Attachments) != 0 {
		t.Errorf("attachments: got %d, want 0", len(c.Attachments))
	}
}

func TestExtract_MultipartPlainWinsOverLaterParts(t *testing.T) {
	t.Parallel()

	raw := crlf(
		"From: sender@example.com",
		"To: infra@test.com",
		"Subject: multipart message",
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=\"BOUND\"",
		"",
		"--BOUND",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain text body",
		"--BOUND",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<html><body><b>html body</b></body></html>",
		"--BOUND--",
	)

	c := newTestExtractor().Extract(raw)

	if c.ContentType != "text/plain" {
		t.Errorf("content type: got %q, want text/plain", c.ContentType)
	}
	if !strings.Contains(c.Body, "plain text body") {
		t.Errorf("body: got %q", c.Body)
	}
	if strings.Contains(c.Body, "html body") {
		t.Errorf("later part overwrote the body: %q", c.Body)
	}
}

func TestExtract_HTMLBodyConverted(t *testing.T) {
	t.Parallel()

	raw := crlf(
		"From: sender@example.com",
		"To: infra@test.com",
		"Subject: html only",
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<html><body><p>Hello <b>there</b></p>",
		"<a href=\"https://status.test.com\">status page</a></body></html>",
	)

	c := newTestExtractor().Extract(raw)

	if c.ContentType != "text/html" {
		t.Errorf("content type: got %q, want text/html", c.ContentType)
	}
	if strings.Contains(c.Body, "<b>") || strings.Contains(c.Body, "<html>") {
		t.Errorf("body still contains markup: %q", c.Body)
	}
	if !strings.Contains(c.Body, "Hello") {
		t.Errorf("body text lost: %q", c.Body)
	}
	// Link targets survive conversion as inline markers.
	if !strings.Contains(c.Body, "https://status.test.com") {
		t.Errorf("link target lost: %q", c.Body)
	}
}

func TestExtract_Attachment(t *testing.T) {
	t.Parallel()

	raw := crlf(
		"From: sender@example.com",
		"To: infra@test.com",
		"Subject: with attachment",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=\"BOUND\"",
		"",
		"--BOUND",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"See attached.",
		"--BOUND",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Disposition: attachment; filename=\"test.txt\"",
		"",
		"This is a test attachment",
		"--BOUND--",
	)

	c := newTestExtractor().Extract(raw)

	if !strings.Contains(c.Body, "See attached.") {
		t.Errorf("body: got %q", c.Body)
	}
	if len(c.Attachments) != 1 {
		t.Fatalf("attachments: got %d, want 1", len(c.Attachments))
	}

	att := c.Attachments[0]
	if att.Filename != "test.txt" {
		t.Errorf("filename: got %q", att.Filename)
	}
	if att.ContentType != "text/plain" {
		t.Errorf("content type: got %q", att.ContentType)
	}
	if !strings.Contains(string(att.Data), "This is a test attachment") {
		t.Errorf("data: got %q", att.Data)
	}
	if att.Size != int64(len(att.Data)) {
		t.Errorf("size: got %d, want %d", att.Size, len(att.Data))
	}
	// An attachment-disposition text part never becomes the body.
	if strings.Contains(c.Body, "This is a test attachment") {
		t.Errorf("attachment leaked into body: %q", c.Body)
	}
}

func TestExtract_AttachmentWithoutFilename(t *testing.T) {
	t.Parallel()

	raw := crlf(
		"From: sender@example.com",
		"To: infra@test.com",
		"Subject: unnamed attachment",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=\"BOUND\"",
		"",
		"--BOUND",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"body",
		"--BOUND",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment",
		"",
		"%PDF-1.4 fake",
		"--BOUND--",
	)

	c := newTestExtractor().Extract(raw)

	if len(c.Attachments) != 1 {
		t.Fatalf("attachments: got %d, want 1", len(c.Attachments))
	}

	name := c.Attachments[0].Filename
	if !strings.HasPrefix(name, "attachment_") {
		t.Errorf("synthesized filename prefix: got %q", name)
	}
	if !strings.HasSuffix(name, ".pdf") {
		t.Errorf("synthesized filename extension: got %q", name)
	}
}

func TestExtract_ThreadingHeaders(t *testing.T) {
	t.Parallel()

	raw := crlf(
		"From: sender@example.com",
		"To: infra@test.com",
		"Subject: Re: earlier thread",
		"Message-Id: <reply@example.com>",
		"In-Reply-To: <orig@example.com>",
		"References: <root@example.com> <orig@example.com>",
		"Content-Type: text/plain",
		"",
		"reply body",
	)

	c := newTestExtractor().Extract(raw)

	if c.InReplyTo != "<orig@example.com>" {
		t.Errorf("in-reply-to: got %q", c.InReplyTo)
	}
	if c.References != "<root@example.com> <orig@example.com>" {
		t.Errorf("references: got %q", c.References)
	}
	if c.Headers["From"] != "sender@example.com" {
		t.Errorf("headers map missing From: %v", c.Headers)
	}
}

func TestExtract_UnparseableFallsBackToRaw(t *testing.T) {
	t.Parallel()

	raw := []byte("this is not an rfc822 message at all")

	c := newTestExtractor().Extract(raw)

	if c.Body != "this is not an rfc822 message at all" {
		t.Errorf("fallback body: got %q", c.Body)
	}
	if c.ContentType != "text/plain" {
		t.Errorf("fallback content type: got %q", c.ContentType)
	}
}

func TestGenerateFilename(t *testing.T) {
	t.Parallel()

	if name := generateFilename("image/png"); !strings.HasSuffix(name, ".png") {
		t.Errorf("png extension: got %q", name)
	}
	if name := generateFilename("application/x-unknown"); !strings.HasSuffix(name, ".bin") {
		t.Errorf("unknown type extension: got %q", name)
	}

	a := generateFilename("text/plain")
	b := generateFilename("text/plain")
	if a == b {
		t.Errorf("synthesized names must not collide: %q", a)
	}
}
