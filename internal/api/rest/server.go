package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidleathers/sod-sentinel/internal/infrastructure/config"
)

// Server is the HTTP front of the service.
type Server struct {
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer assembles the mux, middleware chain, and http.Server.
func NewServer(cfg *config.Config, logger *zap.Logger, handler *Handler, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	chained := Chain(mux,
		Recover(logger),
		Tracing(),
		RequestLogger(logger),
		RateLimit(cfg.Security.RateLimit.RequestsPerSecond, cfg.Security.RateLimit.BurstSize),
		BearerAuth(cfg.Security.JWTSecret, logger),
	)

	return &Server{
		logger: logger,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      chained,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
