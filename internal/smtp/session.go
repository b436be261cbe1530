package smtp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailbridge/internal/model"
	"mailbridge/pkg/metrics"
	"mailbridge/pkg/trace"
)

// Processor receives one accepted submission and handles it
// synchronously. An error means the message was not durably handled and
// the client is told to retry.
type Processor interface {
	Process(ctx context.Context, msg *model.InboundMessage) error
}

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// idleTimeout is the maximum time a session can remain idle before
// being closed.
const idleTimeout = 60 * time.Second

// maxMessageSize caps DATA accumulation and is advertised in the EHLO
// SIZE extension (10 MB).
const maxMessageSize = 10 * 1024 * 1024

// Session manages the SMTP protocol state machine for one client
// connection.
type Session struct {
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	state     int
	auth      *Authenticator
	processor Processor
	hostname  string
	domain    string
	logger    *zap.Logger

	tlsConfig *tls.Config
	tlsActive bool

	mailFrom string
	rcptTo   []string
}

func NewSession(conn net.Conn, auth *Authenticator, processor Processor, hostname, domain string, tlsConfig *tls.Config, logger *zap.Logger) *Session {
	return &Session{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		state:     stateConnected,
		auth:      auth,
		processor: processor,
		hostname:  hostname,
		domain:    strings.ToLower(domain),
		tlsConfig: tlsConfig,
		logger:    logger,
	}
}

// Handle runs the session until the client disconnects, QUITs, or the
// server shuts down.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	outcome := "aborted"
	defer func() { metrics.RecordSMTPSession(outcome) }()

	s.writeLine("220 %s ESMTP mailbridge", s.hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			s.logger.Error("Failed to set connection deadline", zap.Error(err))
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("Connection read error", zap.Error(err))
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(ctx, cmd, arg); done {
			outcome = "completed"
			return
		}
	}
}

func (s *Session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA(ctx)
	case "RSET":
		s.handleRSET()
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *Session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	if cmd == "HELO" {
		s.state = stateGreeted
		s.writeLine("250 %s Hello %s", s.hostname, arg)
		return
	}

	s.state = stateGreeted
	s.writeLine("250-%s Hello %s", s.hostname, arg)

	if s.tlsConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	s.writeLine("250-AUTH PLAIN LOGIN")
	s.writeLine("250-SIZE %d", maxMessageSize)
	s.writeLine("250 OK")
}

func (s *Session) handleSTARTTLS() {
	if s.tlsConfig == nil {
		s.writeLine("454 TLS not available")
		return
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.logger.Error("TLS handshake failed", zap.Error(err))
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
}

func (s *Session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}

	parts := strings.SplitN(arg, " ", 2)
	mechanism := strings.ToUpper(parts[0])

	switch mechanism {
	case "PLAIN":
		s.handleAuthPlain(parts)
	case "LOGIN":
		s.handleAuthLogin()
	default:
		s.writeLine("504 Unrecognized authentication type")
	}
}

func (s *Session) handleAuthPlain(parts []string) {
	var encoded string

	if len(parts) > 1 && parts[1] != "" {
		// Credentials inline: AUTH PLAIN <base64>
		encoded = parts[1]
	} else {
		s.writeLine("334")
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.logger.Error("Failed to read AUTH PLAIN response", zap.Error(err))
			return
		}
		encoded = strings.TrimRight(line, "\r\n")
	}

	if encoded == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}

	user, err := s.auth.VerifyPlain(encoded)
	if err != nil {
		s.rejectAuth(user, err)
		return
	}

	s.state = stateAuthOK
	s.writeLine("235 Authentication successful")
}

func (s *Session) handleAuthLogin() {
	// Challenge for username, base64 of "Username:"
	s.writeLine("334 VXNlcm5hbWU6")
	userLine, err := s.reader.ReadString('\n')
	if err != nil {
		s.logger.Error("Failed to read AUTH LOGIN username", zap.Error(err))
		return
	}
	encodedUser := strings.TrimRight(userLine, "\r\n")

	if encodedUser == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}

	// Challenge for password, base64 of "Password:"
	s.writeLine("334 UGFzc3dvcmQ6")
	passLine, err := s.reader.ReadString('\n')
	if err != nil {
		s.logger.Error("Failed to read AUTH LOGIN password", zap.Error(err))
		return
	}
	encodedPass := strings.TrimRight(passLine, "\r\n")

	if encodedPass == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}

	user, err := s.auth.VerifyLogin(encodedUser, encodedPass)
	if err != nil {
		s.rejectAuth(user, err)
		return
	}

	s.state = stateAuthOK
	s.writeLine("235 Authentication successful")
}

// rejectAuth logs a failed attempt with the username only, never the
// password, and answers 535.
func (s *Session) rejectAuth(user string, err error) {
	s.logger.Warn("SMTP authentication failed",
		zap.String("username", user),
		zap.String("remote_addr", s.conn.RemoteAddr().String()),
		zap.Error(err),
	)
	metrics.RecordSMTPAuthFailure()
	s.writeLine("535 Authentication failed")
}

func (s *Session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.state < stateAuthOK {
		s.writeLine("530 Authentication required")
		return
	}

	upper := strings.ToUpper(arg)
	if !strings.HasPrefix(upper, "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	param := strings.TrimSpace(arg[5:])
	addr := extractAddress(param)
	// The null reverse-path <> is valid; bounce messages use it.
	if addr == "" && param != "<>" {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

// handleRCPT accepts a recipient only when its domain matches the
// configured accepting domain. A rejected recipient gets 550 while the
// session continues with the ones already accepted.
func (s *Session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}

	upper := strings.ToUpper(arg)
	if !strings.HasPrefix(upper, "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr := extractAddress(arg[3:])
	if addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	if !s.acceptsRecipient(addr) {
		s.logger.Info("Rejected recipient outside accepting domain",
			zap.String("recipient", addr),
			zap.String("domain", s.domain),
		)
		s.writeLine("550 Relay not permitted for %s", addr)
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

func (s *Session) acceptsRecipient(addr string) bool {
	if s.domain == "" {
		return true
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return false
	}
	return strings.ToLower(addr[at+1:]) == s.domain
}

// handleDATA accumulates the dot-stuffed message body and hands the
// submission to the processor. The reply code reflects the processing
// outcome: 250 when the message was durably handled, 451 when the
// client should retry.
func (s *Session) handleDATA(ctx context.Context) {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	var data bytes.Buffer
	oversize := false
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.logger.Error("Error reading DATA", zap.Error(err))
			return
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}

		// Dot-stuffing: a leading ".." collapses to "."
		if strings.HasPrefix(trimmed, "..") {
			line = line[1:]
		}

		if oversize {
			continue
		}
		data.WriteString(line)
		if data.Len() > maxMessageSize {
			// Drain to the terminating dot but stop buffering.
			oversize = true
			data.Reset()
		}
	}

	if oversize {
		s.logger.Warn("Message rejected, exceeds maximum size",
			zap.String("sender", s.mailFrom),
			zap.Int("max_bytes", maxMessageSize),
		)
		s.writeLine("552 Message exceeds maximum size of %d bytes", maxMessageSize)
		s.resetTransaction()
		return
	}

	receivedAt := time.Now()
	msg := &model.InboundMessage{
		Sender:     s.mailFrom,
		Recipients: append([]string(nil), s.rcptTo...),
		Raw:        data.Bytes(),
		RemoteAddr: s.conn.RemoteAddr().String(),
		ReceivedAt: receivedAt,
	}

	procCtx := trace.WithContext(ctx, trace.GenerateTraceID())

	if err := s.processor.Process(procCtx, msg); err != nil {
		s.logger.Error("Message processing failed",
			zap.String("sender", s.mailFrom),
			zap.Strings("recipients", s.rcptTo),
			zap.Error(err),
		)
		s.writeLine("451 Temporary failure, please try again later")
		s.resetTransaction()
		return
	}

	s.writeLine("250 OK message accepted")
	s.resetTransaction()
}

func (s *Session) handleRSET() {
	s.resetTransaction()
	s.writeLine("250 OK")
}

// resetTransaction clears the mail transaction without dropping the
// greeting or authentication state.
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil

	if s.state >= stateAuthOK {
		s.state = stateAuthOK
	} else if s.state >= stateGreeted {
		s.state = stateGreeted
	}
}

func (s *Session) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		s.logger.Error("Failed to write to client", zap.Error(err))
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.logger.Error("Failed to flush to client", zap.Error(err))
	}
}

// parseCommand splits an SMTP command line into verb and argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// extractAddress extracts an email address from an SMTP parameter,
// handling both angle-bracket and bare formats.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}

	return s
}
