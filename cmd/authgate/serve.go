package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsdash/authgate/internal/api"
	"github.com/opsdash/authgate/internal/infrastructure/config"
	"github.com/opsdash/authgate/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Connect the configured backends, apply pending Postgres migrations and
serve the auth API until SIGINT or SIGTERM.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.IsDevelopment(),
		Service: "authgate",
	})
	log := logger.Get()

	d, err := buildDeps(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise dependencies")
		return err
	}
	defer func() {
		if err := d.close(); err != nil {
			log.Warn().Err(err).Msg("error releasing dependencies")
		}
	}()

	dispatcher := newDispatcher(cfg, d, logger.Component("audit"))
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	janitor := newJanitor(cfg, d, logger.Component("janitor"))
	janitor.Start()
	defer janitor.Close()

	authService, err := newAuthService(cfg, d, dispatcher, logger.Component("gateway"))
	if err != nil {
		return err
	}

	proxies, err := cfg.TrustedProxyNets()
	if err != nil {
		return err
	}

	e := api.NewRouter(api.Dependencies{
		AuthService:    authService,
		Health:         d.health,
		Log:            logger.Component("http"),
		TrustedProxies: proxies,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("auth_mode", d.authority.Mode()).
			Str("store", cfg.Store.Backend).
			Str("rate_limit", cfg.RateLimit.Backend).
			Msg("authgate listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	return nil
}
