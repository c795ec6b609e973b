package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"teamchat/internal/metrics"
)

// MetricsServer exposes /metrics and /healthz for local debugging. Disabled
// when no listen address is configured.
type MetricsServer struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates the server for the given address. An empty
// address yields a no-op server.
func NewMetricsServer(addr string, logger *zap.Logger) *MetricsServer {
	if addr == "" {
		return &MetricsServer{logger: logger}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &MetricsServer{
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Start blocks serving until Stop. Returns nil immediately when disabled.
func (s *MetricsServer) Start() error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("metrics listener started", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *MetricsServer) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics listener shutdown", zap.Error(err))
	}
}
