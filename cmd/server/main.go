package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/bridge"
	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/config"
	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/observability"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_port", cfg.GRPCPort).
		Str("console_endpoint", cfg.SpatialRealConsoleEndpoint).
		Str("ingress_endpoint", cfg.SpatialRealIngressEndpoint).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Bool("trace_export", cfg.TraceEndpoint != "").
		Msg("Avatar relay starting")

	// Tracing: spans are exported only when an endpoint is configured
	shutdownTracing, err := observability.InitProvider(context.Background(), observability.ProviderConfig{
		Endpoint: cfg.TraceEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	checks := readinessChecks(cfg)

	mux := http.NewServeMux()

	// Agent audio websocket
	mux.Handle("/agents/audio", bridge.NewHandler(cfg))

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks...))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No WriteTimeout: agent websockets stay open for the whole voice session
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	grpcHealth := observability.NewGRPCHealthServer(checks...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/agents/audio", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("port", cfg.GRPCPort).Msg("gRPC health service listening")
		err := grpcHealth.Serve(gctx, fmt.Sprintf(":%s", cfg.GRPCPort), 15*time.Second)
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		grpcHealth.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Failed to flush traces")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Avatar relay stopped with error")
	}

	logger.Info().Msg("Server exited gracefully")
}

// readinessChecks validate the configuration every session start relies on.
// They make no calls to SpatialReal so probes cost nothing.
func readinessChecks(cfg *config.Config) []observability.NamedCheck {
	spatialRealCheck := func(ctx context.Context) (bool, error) {
		if cfg.SpatialRealAPIKey == "" || cfg.SpatialRealAppID == "" || cfg.SpatialRealAvatarID == "" {
			return false, errors.New("SPATIALREAL_API_KEY, SPATIALREAL_APP_ID and SPATIALREAL_AVATAR_ID must be set")
		}
		if _, err := url.ParseRequestURI(cfg.SpatialRealConsoleEndpoint); err != nil {
			return false, fmt.Errorf("invalid console endpoint: %w", err)
		}
		if _, err := url.ParseRequestURI(cfg.SpatialRealIngressEndpoint); err != nil {
			return false, fmt.Errorf("invalid ingress endpoint: %w", err)
		}
		return true, nil
	}

	liveKitCheck := func(ctx context.Context) (bool, error) {
		if !cfg.HasLiveKitCredentials() {
			// Agents may still pass credentials in their start event
			return false, errors.New("LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET are not set")
		}
		return true, nil
	}

	return []observability.NamedCheck{
		{Name: "spatialreal", Check: spatialRealCheck},
		{Name: "livekit", Check: liveKitCheck},
	}
}
