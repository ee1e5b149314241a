/*
Package server exposes the latest collection snapshot over HTTP.

Every request, whatever its path or method, receives the same Prometheus
text body. The handler only reads the published snapshot; it never
touches the access log, so scrapes stay cheap and cannot stall a cycle.
*/
package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/compassvpn/user-metrics/internal/metrics"
)

// SnapshotSource provides the snapshot to serve. *metrics.Aggregator implements it.
type SnapshotSource interface {
	Snapshot() metrics.Snapshot
}

// Server is the metrics endpoint.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	source     SnapshotSource
	gatherer   prometheus.Gatherer
	startTime  time.Time

	requestsTotal atomic.Int64

	shutdownOnce sync.Once
}

// Config holds server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":9551").
	ListenAddr string
	// Logger is the structured logger to use. If nil, a default is created.
	Logger *slog.Logger
	// Source supplies the snapshot. Required.
	Source SnapshotSource
	// Gatherer, when set, is appended to every response after the snapshot.
	Gatherer prometheus.Gatherer
	// ReadHeaderTimeout is the timeout for reading request headers. Zero uses 10s.
	ReadHeaderTimeout time.Duration
}

// New creates a server with the given configuration.
func New(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	readHeaderTimeout := cfg.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 10 * time.Second
	}

	s := &Server{
		logger:    cfg.Logger,
		source:    cfg.Source,
		gatherer:  cfg.Gatherer,
		startTime: time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// ServeHTTP writes the current snapshot for any path and method.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requestsTotal.Add(1)

	s.logger.Debug("metrics request",
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
	)

	var body bytes.Buffer
	if err := metrics.Render(&body, s.source.Snapshot()); err != nil {
		s.logger.Error("render metrics failed", "error", err)
	}

	if s.gatherer != nil {
		var extra bytes.Buffer
		if err := metrics.WriteGatherer(&extra, s.gatherer); err != nil {
			s.logger.Warn("self metrics omitted", "error", err)
		} else {
			body.Write(extra.Bytes())
		}
	}

	w.Header().Set("Content-Type", metrics.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(body.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, &body)
}

// Listen binds the configured address without serving on it.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.httpServer.Addr)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("metrics server starting", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe binds the configured address and serves on it.
func (s *Server) ListenAndServe() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.Info("metrics server shutting down")
		err = s.httpServer.Shutdown(ctx)
	})
	return err
}

// RequestsTotal returns the number of requests served.
func (s *Server) RequestsTotal() int64 {
	return s.requestsTotal.Load()
}

// Uptime returns the duration since the server was created.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}
