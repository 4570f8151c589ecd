package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/billsync/billsync/internal/config"
	"github.com/billsync/billsync/internal/logging"
	"github.com/billsync/billsync/internal/store"
	"github.com/billsync/billsync/internal/stripe"
)

// Run starts the billing synchronizer HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "billsync",
	})

	log.Info().Str("version", version).Msg("Starting billing synchronizer")

	st, err := store.NewSubscriptionStore(cfg.StoreDir())
	if err != nil {
		return fmt.Errorf("open subscription store: %w", err)
	}
	defer st.Close()

	processor := stripe.NewAPIClient(cfg.StripeAPIKey, cfg.FetchTimeout)
	reconciler := stripe.NewReconciler(st, processor)

	mux := http.NewServeMux()
	deps := &Deps{
		Config:     cfg,
		Store:      st,
		Reconciler: reconciler,
		Version:    version,
	}
	RegisterRoutes(mux, deps)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Derived context for background goroutines
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go runStatusMetrics(ctx, st)
	go runLapsedAudit(ctx, st)

	// Start server in background
	go func() {
		log.Info().Str("addr", addr).Msg("Billing synchronizer listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Billing synchronizer stopped")
	return nil
}
