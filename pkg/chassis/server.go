// Package chassis serves the hub's HTTP handler over HTTP/3 next to the
// TCP listener, and advertises it to TCP clients with Alt-Svc.
//
// In development a self-signed ECDSA P-256 cert is generated at startup.
// In production, supply cert/key files via config.
package chassis

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

const (
	idleTimeout = 60 * time.Second
	keepAlive   = 20 * time.Second
)

type Server struct {
	addr    string
	logger  *slog.Logger
	tlsCfg  *tls.Config
	handler http.Handler

	h3Server *http3.Server
	altSvc   string // announced until the QUIC listener is up

	mu     sync.Mutex
	closed bool
}

type Config struct {
	Addr     string      // UDP listen address (e.g. ":8443")
	TLS      *tls.Config // nil = files below, or a generated dev cert
	CertFile string
	KeyFile  string
	Handler  http.Handler
	Logger   *slog.Logger
}

func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("chassis: nil handler")
	}

	port, err := listenPort(cfg.Addr)
	if err != nil {
		return nil, err
	}

	tlsCfg := cfg.TLS
	if tlsCfg == nil {
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			tlsCfg, err = ProductionTLSConfig(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("load TLS cert: %w", err)
			}
			cfg.Logger.Info("TLS: production certs loaded")
		} else {
			tlsCfg, err = DevelopmentTLSConfig()
			if err != nil {
				return nil, fmt.Errorf("generate dev TLS: %w", err)
			}
			cfg.Logger.Info("TLS: self-signed dev cert generated")
		}
	}

	s := &Server{
		addr:    cfg.Addr,
		logger:  cfg.Logger,
		tlsCfg:  tlsCfg,
		handler: cfg.Handler,
	}
	if port != 0 {
		s.altSvc = fmt.Sprintf(`%s=":%d"; ma=2592000`, http3.NextProtoH3, port)
	}
	s.h3Server = &http3.Server{
		Addr:      s.addr,
		Port:      port,
		Handler:   s.handler,
		TLSConfig: http3.ConfigureTLSConfig(s.tlsCfg),
		QUICConfig: &quic.Config{
			MaxStreamReceiveWindow:     10 * 1024 * 1024,
			MaxConnectionReceiveWindow: 50 * 1024 * 1024,
			MaxIdleTimeout:             idleTimeout,
			KeepAlivePeriod:            keepAlive,
		},
	}
	return s, nil
}

// listenPort extracts the UDP port from addr; 0 means let the OS pick.
func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("chassis: addr %q: %w", addr, err)
	}
	if p == "" {
		return 0, nil
	}
	port, err := strconv.Atoi(p)
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("chassis: addr %q: bad port", addr)
	}
	return port, nil
}

// AltSvc wraps next so TCP responses announce the HTTP/3 endpoint.
func (s *Server) AltSvc(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.h3Server.SetQUICHeaders(w.Header()); err != nil && s.altSvc != "" {
			w.Header().Set("Alt-Svc", s.altSvc)
		}
		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP/3 until Stop or a listener error.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("chassis started", "addr", s.addr, "http3", true)
	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()
	if err := s.h3Server.ListenAndServe(); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		return fmt.Errorf("HTTP/3: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("chassis stopping")
	return s.h3Server.Close()
}
