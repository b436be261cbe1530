package smtp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"mailbridge/internal/model"
)

// authPlainCreds is base64("\x00smtpuser\x00smtppass").
const authPlainCreds = "AHNtdHB1c2VyAHNtdHBwYXNz"

// mockProcessor implements Processor for testing.
type mockProcessor struct {
	lastMsg    *model.InboundMessage
	processErr error
}

func (m *mockProcessor) Process(_ context.Context, msg *model.InboundMessage) error {
	m.lastMsg = msg
	return m.processErr
}

// connPair creates a connected pair of net.Conn for testing sessions.
func connPair(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	done := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		done <- conn
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	server = <-done
	return client, server
}

// startSession wires a session over a conn pair and returns the client
// side with a buffered reader positioned after the greeting.
func startSession(t *testing.T, proc Processor, domain string) (net.Conn, *bufio.Reader) {
	t.Helper()

	client, server := connPair(t)
	t.Cleanup(func() { client.Close() })

	auth := NewAuthenticator("smtpuser", "smtppass")
	sess := NewSession(server, auth, proc, "mail.test.com", domain, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	go sess.Handle(ctx)

	reader := bufio.NewReader(client)
	readLine(t, reader) // Skip greeting
	return client, reader
}

func readLine(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func sendCmd(t *testing.T, conn net.Conn, cmd string) {
	t.Helper()
	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		t.Fatalf("failed to write command: %v", err)
	}
}

// ehlo issues EHLO and consumes the multi-line response.
func ehlo(t *testing.T, conn net.Conn, reader *bufio.Reader) []string {
	t.Helper()
	sendCmd(t, conn, "EHLO client.test.com")

	var lines []string
	for {
		line := readLine(t, reader)
		lines = append(lines, line)
		if !strings.HasPrefix(line, "250-") {
			break
		}
	}
	return lines
}

// authenticate performs AUTH PLAIN with the test credentials.
func authenticate(t *testing.T, conn net.Conn, reader *bufio.Reader) {
	t.Helper()
	sendCmd(t, conn, "AUTH PLAIN "+authPlainCreds)
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "235 ") {
		t.Fatalf("AUTH PLAIN response: got %q, want prefix '235 '", resp)
	}
}

func TestSession_Greeting(t *testing.T) {
	t.Parallel()

	client, server := connPair(t)
	defer client.Close()

	auth := NewAuthenticator("smtpuser", "smtppass")
	sess := NewSession(server, auth, &mockProcessor{}, "mail.test.com", "test.com", nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go sess.Handle(ctx)

	reader := bufio.NewReader(client)
	greeting := readLine(t, reader)

	if !strings.HasPrefix(greeting, "220 ") {
		t.Errorf("greeting: got %q, want prefix '220 '", greeting)
	}
	if !strings.Contains(greeting, "mail.test.com") {
		t.Errorf("greeting should contain hostname, got %q", greeting)
	}
}

func TestSession_EHLOCapabilities(t *testing.T) {
	t.Parallel()

	client, reader := startSession(t, &mockProcessor{}, "test.com")

	lines := ehlo(t, client, reader)

	foundAuth := false
	foundSize := false
	for _, line := range lines {
		if strings.Contains(line, "AUTH PLAIN LOGIN") {
			foundAuth = true
		}
		if strings.Contains(line, "SIZE") {
			foundSize = true
		}
	}

	if !foundAuth {
		t.Error("EHLO response missing AUTH capability")
	}
	if !foundSize {
		t.Error("EHLO response missing SIZE capability")
	}
}

func TestSession_AuthRequiredBeforeMail(t *testing.T) {
	t.Parallel()

	client, reader := startSession(t, &mockProcessor{}, "test.com")

	ehlo(t, client, reader)

	sendCmd(t, client, "MAIL FROM:<sender@example.com>")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "530 ") {
		t.Errorf("MAIL FROM without AUTH: got %q, want prefix '530 '", resp)
	}
}

func TestSession_AuthPlainRejected(t *testing.T) {
	t.Parallel()

	client, reader := startSession(t, &mockProcessor{}, "test.com")

	ehlo(t, client, reader)

	// base64("\x00user\x00wrong")
	sendCmd(t, client, "AUTH PLAIN AHVzZXIAd3Jvbmc=")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "535 ") {
		t.Errorf("bad AUTH PLAIN: got %q, want prefix '535 '", resp)
	}
}

func TestSession_AuthLogin(t *testing.T) {
	t.Parallel()

	client, reader := startSession(t, &mockProcessor{}, "test.com")

	ehlo(t, client, reader)

	sendCmd(t, client, "AUTH LOGIN")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "334 ") {
		t.Fatalf("AUTH LOGIN username challenge: got %q", resp)
	}

	sendCmd(t, client, "c210cHVzZXI=") // base64("smtpuser")
	resp = readLine(t, reader)
	if !strings.HasPrefix(resp, "334 ") {
		t.Fatalf("AUTH LOGIN password challenge: got %q", resp)
	}

	sendCmd(t, client, "c210cHBhc3M=") // base64("smtppass")
	resp = readLine(t, reader)
	if !strings.HasPrefix(resp, "235 ") {
		t.Errorf("AUTH LOGIN completion: got %q, want prefix '235 '", resp)
	}
}

func TestSession_RejectsRecipientOutsideDomain(t *testing.T) {
	t.Parallel()

	client, reader := startSession(t, &mockProcessor{}, "test.com")

	ehlo(t, client, reader)
	authenticate(t, client, reader)

	sendCmd(t, client, "MAIL FROM:<sender@example.com>")
	readLine(t, reader) // 250 OK

	sendCmd(t, client, "RCPT TO:<someone@elsewhere.org>")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "550 ") {
		t.Errorf("foreign-domain RCPT: got %q, want prefix '550 '", resp)
	}

	// The session continues: a matching recipient is still accepted.
	sendCmd(t, client, "RCPT TO:<infra@test.com>")
	resp = readLine(t, reader)
	if !strings.HasPrefix(resp, "250 ") {
		t.Errorf("matching-domain RCPT: got %q, want prefix '250 '", resp)
	}
}

func TestSession_Delivery(t *testing.T) {
	t.Parallel()

	proc := &mockProcessor{}
	client, reader := startSession(t, proc, "test.com")

	ehlo(t, client, reader)
	authenticate(t, client, reader)

	sendCmd(t, client, "MAIL FROM:<sender@example.com>")
	readLine(t, reader)
	sendCmd(t, client, "RCPT TO:<infra@test.com>")
	readLine(t, reader)

	sendCmd(t, client, "DATA")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "354 ") {
		t.Fatalf("DATA response: got %q, want prefix '354 '", resp)
	}

	message := strings.Join([]string{
		"From: sender@example.com",
		"To: infra@test.com",
		"Subject: New Infrastructure Request",
		"Content-Type: text/plain",
		"",
		"Please provision a staging database.",
		"..dot-stuffed line",
		".",
	}, "\r\n")
	if _, err := client.Write([]byte(message + "\r\n")); err != nil {
		t.Fatalf("failed to write DATA: %v", err)
	}

	resp = readLine(t, reader)
	if !strings.HasPrefix(resp, "250 ") {
		t.Errorf("DATA completion response: got %q, want prefix '250 '", resp)
	}

	if proc.lastMsg == nil {
		t.Fatal("processor did not receive message")
	}
	if proc.lastMsg.Sender != "sender@example.com" {
		t.Errorf("sender: got %q", proc.lastMsg.Sender)
	}
	if len(proc.lastMsg.Recipients) != 1 || proc.lastMsg.Recipients[0] != "infra@test.com" {
		t.Errorf("recipients: got %v", proc.lastMsg.Recipients)
	}
	raw := string(proc.lastMsg.Raw)
	if !strings.Contains(raw, "Subject: New Infrastructure Request") {
		t.Errorf("raw message missing subject header:\n%s", raw)
	}
	if !strings.Contains(raw, "\n.dot-stuffed line") {
		t.Errorf("dot-stuffing not reversed:\n%s", raw)
	}
}

func TestSession_NullReversePathAccepted(t *testing.T) {
	t.Parallel()

	proc := &mockProcessor{}
	client, reader := startSession(t, proc, "test.com")

	ehlo(t, client, reader)
	authenticate(t, client, reader)

	// Bounce messages use the null reverse-path.
	sendCmd(t, client, "MAIL FROM:<>")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "250 ") {
		t.Fatalf("MAIL FROM:<> response: got %q, want prefix '250 '", resp)
	}

	sendCmd(t, client, "RCPT TO:<infra@test.com>")
	readLine(t, reader)
	sendCmd(t, client, "DATA")
	readLine(t, reader) // 354

	if _, err := client.Write([]byte("Subject: Undelivered Mail\r\n\r\ndelivery failed\r\n.\r\n")); err != nil {
		t.Fatalf("failed to write DATA: %v", err)
	}

	resp = readLine(t, reader)
	if !strings.HasPrefix(resp, "250 ") {
		t.Errorf("DATA completion response: got %q, want prefix '250 '", resp)
	}
	if proc.lastMsg == nil {
		t.Fatal("processor did not receive message")
	}
	if proc.lastMsg.Sender != "" {
		t.Errorf("sender: got %q, want empty", proc.lastMsg.Sender)
	}
}

func TestSession_OversizeMessageRejected(t *testing.T) {
	t.Parallel()

	proc := &mockProcessor{}
	client, reader := startSession(t, proc, "test.com")

	ehlo(t, client, reader)
	authenticate(t, client, reader)

	sendCmd(t, client, "MAIL FROM:<sender@example.com>")
	readLine(t, reader)
	sendCmd(t, client, "RCPT TO:<infra@test.com>")
	readLine(t, reader)
	sendCmd(t, client, "DATA")
	readLine(t, reader) // 354

	chunk := []byte(strings.Repeat("a", 1024*1024) + "\r\n")
	for written := 0; written <= maxMessageSize; written += len(chunk) {
		if _, err := client.Write(chunk); err != nil {
			t.Fatalf("failed to write DATA: %v", err)
		}
	}
	if _, err := client.Write([]byte(".\r\n")); err != nil {
		t.Fatalf("failed to terminate DATA: %v", err)
	}

	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "552 ") {
		t.Errorf("oversize response: got %q, want prefix '552 '", resp)
	}
	if proc.lastMsg != nil {
		t.Error("oversize message must not reach the processor")
	}

	// The session survives and a fresh transaction is possible.
	sendCmd(t, client, "MAIL FROM:<sender@example.com>")
	resp = readLine(t, reader)
	if !strings.HasPrefix(resp, "250 ") {
		t.Errorf("MAIL after rejection: got %q, want prefix '250 '", resp)
	}
}

func TestSession_ProcessorErrorReturns451(t *testing.T) {
	t.Parallel()

	proc := &mockProcessor{processErr: errors.New("db unavailable")}
	client, reader := startSession(t, proc, "test.com")

	ehlo(t, client, reader)
	authenticate(t, client, reader)

	sendCmd(t, client, "MAIL FROM:<sender@example.com>")
	readLine(t, reader)
	sendCmd(t, client, "RCPT TO:<infra@test.com>")
	readLine(t, reader)
	sendCmd(t, client, "DATA")
	readLine(t, reader) // 354

	if _, err := client.Write([]byte("Subject: hi\r\n\r\nbody\r\n.\r\n")); err != nil {
		t.Fatalf("failed to write DATA: %v", err)
	}

	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "451 ") {
		t.Errorf("processor failure response: got %q, want prefix '451 '", resp)
	}
}

func TestSession_RSET(t *testing.T) {
	t.Parallel()

	client, reader := startSession(t, &mockProcessor{}, "test.com")

	ehlo(t, client, reader)
	authenticate(t, client, reader)

	sendCmd(t, client, "MAIL FROM:<sender@example.com>")
	readLine(t, reader)

	sendCmd(t, client, "RSET")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "250 ") {
		t.Errorf("RSET response: got %q, want prefix '250 '", resp)
	}

	// State is reset but authentication survives.
	sendCmd(t, client, "RCPT TO:<infra@test.com>")
	resp = readLine(t, reader)
	if !strings.HasPrefix(resp, "503 ") {
		t.Errorf("RCPT TO after RSET: got %q, want prefix '503 '", resp)
	}

	sendCmd(t, client, "MAIL FROM:<sender@example.com>")
	resp = readLine(t, reader)
	if !strings.HasPrefix(resp, "250 ") {
		t.Errorf("MAIL FROM after RSET: got %q, want prefix '250 '", resp)
	}
}

func TestSession_UnknownCommand(t *testing.T) {
	t.Parallel()

	client, reader := startSession(t, &mockProcessor{}, "test.com")

	sendCmd(t, client, "INVALID")
	resp := readLine(t, reader)
	if !strings.HasPrefix(resp, "500 ") {
		t.Errorf("unknown command response: got %q, want prefix '500 '", resp)
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		wantCmd string
		wantArg string
	}{
		{"EHLO client.test.com", "EHLO", "client.test.com"},
		{"MAIL FROM:<user@example.com>", "MAIL", "FROM:<user@example.com>"},
		{"RCPT TO:<user@example.com>", "RCPT", "TO:<user@example.com>"},
		{"DATA", "DATA", ""},
		{"QUIT", "QUIT", ""},
		{"ehlo client.test.com", "EHLO", "client.test.com"},
		{"AUTH PLAIN dGVzdA==", "AUTH", "PLAIN dGVzdA=="},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			cmd, arg := parseCommand(tt.input)
			if cmd != tt.wantCmd {
				t.Errorf("command: got %q, want %q", cmd, tt.wantCmd)
			}
			if arg != tt.wantArg {
				t.Errorf("arg: got %q, want %q", arg, tt.wantArg)
			}
		})
	}
}

func TestExtractAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"<user@example.com>", "user@example.com"},
		{"  <user@example.com>  ", "user@example.com"},
		{"user@example.com", "user@example.com"},
		{"<>", ""},
		{"", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got := extractAddress(tt.input)
			if got != tt.want {
				t.Errorf("extractAddress(%q): got %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
