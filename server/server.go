// server/server.go
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/acme/autocert"
)

// TLSOptions selects how HTTPS is served. With UseHTTPS false the server
// speaks plain HTTP.
type TLSOptions struct {
	UseHTTPS       bool
	CertFile       string
	KeyFile        string
	UseLetsEncrypt bool
	Domain         string
	Email          string
	CacheDir       string
	// RedirectAddr serves the ACME http-01 challenge and redirects other
	// traffic to HTTPS. Empty disables the auxiliary listener.
	RedirectAddr string
}

// Options configures Listen.
type Options struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	TLS               TLSOptions
	Production        bool
	Logger            *zap.Logger
}

// Server is a bound, serving HTTP server whose connections are tracked so
// shutdown can destroy the ones that never go idle.
type Server struct {
	HTTP *http.Server

	ln     net.Listener
	aux    *http.Server
	conns  *ConnTracker
	errc   chan error
	logger *zap.Logger
}

// Listen binds opts.Addr and starts serving h in the background. It
// returns once the listener is bound; serve failures are reported on Err.
func Listen(ctx context.Context, h http.Handler, opts Options) (*Server, error) {
	if h == nil {
		return nil, errors.New("server: handler is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		conns:  NewConnTracker(),
		errc:   make(chan error, 2),
		logger: logger,
	}
	s.HTTP = &http.Server{
		Handler:           h,
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
		ConnState:         s.conns.Track,
	}
	if stdlog, err := zap.NewStdLogAt(logger, zapcore.WarnLevel); err == nil {
		s.HTTP.ErrorLog = stdlog
	}

	tlsCfg, err := s.tlsConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		s.stopAux(context.Background())
		return nil, fmt.Errorf("listen %s: %w", opts.Addr, err)
	}
	if tlsCfg != nil {
		s.HTTP.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}
	s.ln = ln

	scheme := "http"
	if tlsCfg != nil {
		scheme = "https"
	}
	logger.Info("server listening", zap.String("addr", ln.Addr().String()), zap.String("scheme", scheme))

	go func() {
		if err := s.HTTP.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- fmt.Errorf("serve: %w", err)
		}
	}()
	return s, nil
}

func (s *Server) tlsConfig(ctx context.Context, opts Options) (*tls.Config, error) {
	t := opts.TLS
	if !t.UseHTTPS {
		return nil, nil
	}
	if t.UseLetsEncrypt {
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(t.Domain),
			Cache:      autocert.DirCache(t.CacheDir),
			Email:      t.Email,
		}
		if t.RedirectAddr != "" {
			s.startAux(t.RedirectAddr, m.HTTPHandler(redirectHandler()), opts)
			if err := waitForCert(ctx, m, t.Domain, 60*time.Second); err != nil {
				s.logger.Warn("autocert pre-warm failed; first HTTPS hits may see TLS errors", zap.Error(err))
			}
		}
		return &tls.Config{MinVersion: tls.VersionTLS12, GetCertificate: m.GetCertificate}, nil
	}

	if t.CertFile == "" || t.KeyFile == "" {
		return nil, errors.New("server: manual TLS needs cert_file and key_file")
	}
	if err := checkKeyFile(t.KeyFile); err != nil {
		if opts.Production {
			return nil, err
		}
		s.logger.Warn("TLS key file check failed (fatal in prod)", zap.Error(err))
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS cert/key: %w", err)
	}
	if t.RedirectAddr != "" {
		s.startAux(t.RedirectAddr, redirectHandler(), opts)
	}
	return &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}, nil
}

func (s *Server) startAux(addr string, h http.Handler, opts Options) {
	s.aux = &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		IdleTimeout:       opts.IdleTimeout,
	}
	aux := s.aux
	go func() {
		if err := aux.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- fmt.Errorf("auxiliary server: %w", err)
		}
	}()
	s.logger.Info("redirect server listening", zap.String("addr", addr))
}

func (s *Server) stopAux(ctx context.Context) {
	if s.aux != nil {
		_ = s.aux.Shutdown(ctx)
	}
}

// Addr is the bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Err reports terminal serve errors.
func (s *Server) Err() <-chan error { return s.errc }

// Shutdown stops accepting connections and waits for active ones to go
// idle, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopAux(ctx)
	return s.HTTP.Shutdown(ctx)
}

// CloseConnections destroys every connection still tracked and returns
// how many were closed.
func (s *Server) CloseConnections() int {
	return s.conns.CloseAll()
}

// ActiveConnections reports how many connections are currently tracked.
func (s *Server) ActiveConnections() int {
	return s.conns.Len()
}

// WithShutdownSignals returns a context canceled on SIGINT, SIGTERM or
// SIGQUIT. Later signals are logged and ignored so they cannot kill the
// process mid-shutdown; delivery stops only when the cancel func is called.
func WithShutdownSignals(parent context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	stop := make(chan struct{})
	var once sync.Once
	go func() {
		defer signal.Stop(sigCh)
		received := false
		for {
			select {
			case sig := <-sigCh:
				if received {
					logger.Warn("signal ignored; shutdown in progress", zap.Any("signal", sig))
					continue
				}
				received = true
				logger.Info("shutdown signal received", zap.Any("signal", sig))
				cancel()
			case <-stop:
				return
			}
		}
	}()

	return ctx, func() {
		once.Do(func() { close(stop) })
		cancel()
	}
}

// redirectHandler sends plain HTTP traffic to the HTTPS origin.
func redirectHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if !validHost(host) || strings.ContainsAny(r.URL.RequestURI(), "\r\n\x00") {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
}

func validHost(host string) bool {
	if host == "" || strings.Contains(host, "://") || strings.HasPrefix(host, "/") {
		return false
	}
	for _, c := range host {
		if c < 0x20 || c == 0x7f || c == ' ' {
			return false
		}
	}
	return true
}

func checkKeyFile(keyFile string) error {
	info, err := os.Stat(keyFile)
	if err != nil {
		return fmt.Errorf("TLS key file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("TLS key path is a directory: %s", keyFile)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("TLS key file %s has permissions %o (recommended: 0600)", keyFile, perm)
	}
	return nil
}

// waitForCert blocks until autocert holds a certificate for host, the
// timeout passes, or ctx ends.
func waitForCert(ctx context.Context, m *autocert.Manager, host string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: host})
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for cert for %q: %w", host, err)
		case <-t.C:
		}
	}
}
