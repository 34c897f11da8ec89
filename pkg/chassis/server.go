// Package chassis runs the french-cities HTTP listeners.
//
// Without TLS a single TCP listener serves HTTP/1.1. With TLS, TCP serves
// HTTP/1.1 and HTTP/2, and when HTTP3 is set a QUIC listener on the same
// UDP port serves HTTP/3, advertised to TCP clients through Alt-Svc.
package chassis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// Server is the chassis.
type Server struct {
	addr      string
	logger    *slog.Logger
	tlsCfg    *tls.Config
	http3     bool
	handler   http.Handler
	tcpServer *http.Server
	h3Server  *http3.Server
	quicLn    *quic.Listener
	bound     net.Addr
	ready     chan struct{}
	mu        sync.Mutex
}

// Config holds configuration for the chassis server.
type Config struct {
	Addr     string // listen address, e.g. ":8420"; TCP and UDP share the port
	TLS      bool
	CertFile string // empty with KeyFile: self-signed certificate
	KeyFile  string
	HTTP3    bool // requires TLS
	Handler  http.Handler
	Logger   *slog.Logger
}

func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTP3 && !cfg.TLS {
		return nil, errors.New("HTTP/3 requires TLS")
	}
	s := &Server{
		addr:    cfg.Addr,
		logger:  cfg.Logger,
		http3:   cfg.HTTP3,
		handler: securityHeaders(cfg.Handler),
		ready:   make(chan struct{}),
	}
	if cfg.TLS {
		tlsCfg, err := TLSConfig(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS cert: %w", err)
		}
		if cfg.CertFile == "" {
			cfg.Logger.Warn("TLS: self-signed development certificate generated")
		}
		s.tlsCfg = tlsCfg
	}
	return s, nil
}

// securityHeaders adds the headers every JSON API response carries.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// altSvc advertises HTTP/3 on the port of addr.
func altSvc(addr net.Addr, next http.Handler) http.Handler {
	_, port, _ := net.SplitHostPort(addr.String())
	value := fmt.Sprintf(`h3=":%s"; ma=86400`, port)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Alt-Svc", value)
		next.ServeHTTP(w, r)
	})
}

// Addr returns the bound TCP address once the server listens.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
		return s.bound, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start listens and serves until ctx is done or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	var (
		tcpLn net.Listener
		err   error
	)
	if s.tlsCfg != nil {
		tcpTLS := s.tlsCfg.Clone()
		tcpTLS.NextProtos = []string{"h2", "http/1.1"}
		tcpLn, err = tls.Listen("tcp", s.addr, tcpTLS)
	} else {
		tcpLn, err = net.Listen("tcp", s.addr)
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("TCP listen: %w", err)
	}
	s.bound = tcpLn.Addr()

	handler := s.handler
	if s.http3 {
		// Same port as TCP so that ":0" still yields one advertised port.
		udpAddr := s.bound.String()
		s.quicLn, err = quic.ListenAddr(udpAddr, s.tlsCfg, &quic.Config{
			MaxIdleTimeout:  5 * time.Minute,
			KeepAlivePeriod: 30 * time.Second,
		})
		if err != nil {
			tcpLn.Close()
			s.mu.Unlock()
			return fmt.Errorf("QUIC listen: %w", err)
		}
		handler = altSvc(s.bound, handler)
		s.h3Server = &http3.Server{Handler: s.handler}
	}
	s.tcpServer = &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	close(s.ready)
	s.mu.Unlock()

	s.logger.Info("listening", "addr", s.bound.String(), "tls", s.tlsCfg != nil, "http3", s.http3)

	errCh := make(chan error, 2)
	go func() {
		if err := s.tcpServer.Serve(tcpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("TCP: %w", err)
		}
	}()
	if s.quicLn != nil {
		go s.acceptQUIC(ctx, errCh)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) acceptQUIC(ctx context.Context, errCh chan<- error) {
	for {
		conn, err := s.quicLn.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errCh <- fmt.Errorf("QUIC accept: %w", err)
			return
		}
		if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != "h3" {
			s.logger.Warn("unknown ALPN, closing", "alpn", alpn, "remote", conn.RemoteAddr())
			conn.CloseWithError(quic.ApplicationErrorCode(0x11), "unsupported ALPN: "+alpn)
			continue
		}
		go func() {
			if err := s.h3Server.ServeQUICConn(conn); err != nil {
				s.logger.Debug("HTTP/3 conn done", "remote", conn.RemoteAddr(), "error", err)
			}
		}()
	}
}

// Stop gracefully shuts down the listeners.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.tcpServer != nil {
		if err := s.tcpServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.quicLn != nil {
		if err := s.quicLn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.h3Server != nil {
		if err := s.h3Server.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.logger.Info("server stopped")
	return firstErr
}
