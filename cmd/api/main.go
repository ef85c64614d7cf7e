package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/davidleathers/sod-sentinel/internal/api/rest"
	"github.com/davidleathers/sod-sentinel/internal/infrastructure/config"
	"github.com/davidleathers/sod-sentinel/internal/infrastructure/telemetry"
	"github.com/davidleathers/sod-sentinel/internal/metrics"
	"github.com/davidleathers/sod-sentinel/internal/service/detection"
	"github.com/davidleathers/sod-sentinel/internal/service/ingestion"
	"github.com/davidleathers/sod-sentinel/internal/service/justify"
	"github.com/davidleathers/sod-sentinel/internal/service/policystore"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	appMetrics := metrics.NewRegistry(registry)

	ingestService := ingestion.NewService(logger.Named("ingestion"), appMetrics, ingestion.Config{
		SeedDir: cfg.Ingestion.SeedDir,
	})
	policyStore := policystore.NewStore(logger.Named("policystore"))
	engine := detection.NewEngine(logger.Named("detection"), policyStore, appMetrics)
	justifier := justify.NewService(logger.Named("justify"), newProvider(cfg), appMetrics, justify.Config{
		ProviderName: cfg.LLM.Provider,
		MaxRetries:   cfg.LLM.MaxRetries,
		Timeout:      cfg.LLM.Timeout,
	})

	handler := rest.NewHandler(
		logger.Named("api"),
		ingestService,
		policyStore,
		engine,
		justifier,
		cfg.Version,
		cfg.Ingestion.MaxUploadBytes,
	)
	server := rest.NewServer(cfg, logger, handler, registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newProvider selects the justification provider. Only the mock provider
// ships in-tree; a real model integration satisfies justify.Provider.
func newProvider(cfg *config.Config) justify.Provider {
	switch cfg.LLM.Provider {
	case "mock", "":
		return justify.MockProvider{}
	default:
		log.Printf("unknown llm provider %q, falling back to mock", cfg.LLM.Provider)
		return justify.MockProvider{}
	}
}
