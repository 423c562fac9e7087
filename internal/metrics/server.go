package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goran-ethernal/ContractSync/internal/logger"
	"github.com/goran-ethernal/ContractSync/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP server that exposes Prometheus metrics and a health endpoint.
type Server struct {
	config *config.MetricsConfig
	log    *logger.Logger
	server *http.Server
	stopCh chan struct{}

	healthy atomic.Bool
}

// NewServer creates a new metrics server.
func NewServer(config *config.MetricsConfig, log *logger.Logger) *Server {
	s := &Server{
		config: config,
		log:    log,
		stopCh: make(chan struct{}),
	}
	s.healthy.Store(true)

	return s
}

// SetHealthy changes what /health reports.
func (s *Server) SetHealthy(healthy bool) {
	s.healthy.Store(healthy)
}

// Handler returns the HTTP handler serving metrics and health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if !s.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("UNHEALTHY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

// Start starts the metrics HTTP server and begins collecting system metrics.
func (s *Server) Start(ctx context.Context) error {
	if s.config == nil || !s.config.Enabled {
		return nil
	}

	listener, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go s.updateSystemMetrics(ctx)

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("metrics server error", "error", err)
		}
	}()

	s.log.Infow("metrics server started", "address", listener.Addr().String(), "path", s.config.Path)

	return nil
}

// Stop stops the metrics HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	close(s.stopCh)

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	return nil
}

// updateSystemMetrics periodically updates system-level metrics.
func (s *Server) updateSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	UpdateSystemMetrics()

	for {
		select {
		case <-ticker.C:
			UpdateSystemMetrics()
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}
