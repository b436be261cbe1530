package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailbridge/config"
)

// shutdownTimeout is the maximum time to wait for in-flight sessions
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Server is the inbound SMTP listener. It accepts connections and runs
// one Session per connection, delegating accepted submissions to the
// processor.
type Server struct {
	cfg       config.SMTPConfig
	auth      *Authenticator
	processor Processor
	tlsConfig *tls.Config
	logger    *zap.Logger
	listener  net.Listener

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

func NewServer(cfg config.SMTPConfig, processor Processor, logger *zap.Logger) (*Server, error) {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}

	var tlsConfig *tls.Config
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	return &Server{
		cfg:       cfg,
		auth:      NewAuthenticator(cfg.Username, cfg.Password),
		processor: processor,
		tlsConfig: tlsConfig,
		logger:    logger,
	}, nil
}

// ListenAndServe starts the listener and blocks until the context is
// cancelled. On cancellation it stops accepting connections and waits
// up to 30 seconds for in-flight sessions to finish.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.logger.Info("SMTP listener started",
		zap.String("addr", ln.Addr().String()),
		zap.String("domain", s.cfg.Domain),
		zap.Bool("tls_enabled", s.tlsConfig != nil),
	)

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down SMTP listener")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Listener closed by the shutdown goroutine.
				s.waitForSessions()
				return nil
			default:
				s.logger.Error("Accept error", zap.Error(err))
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess := NewSession(
				conn,
				s.auth,
				s.processor,
				s.cfg.Hostname,
				s.cfg.Domain,
				s.tlsConfig,
				s.logger,
			)
			sess.Handle(ctx)
		}()
	}
}

func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All SMTP sessions completed")
	case <-time.After(shutdownTimeout):
		s.logger.Warn("Shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
