package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lingomate/backend/internal/config"
	"github.com/lingomate/backend/internal/friends"
	"github.com/lingomate/backend/internal/handlers"
	"github.com/lingomate/backend/internal/httpserver"
	"github.com/lingomate/backend/internal/logging"
	"github.com/lingomate/backend/internal/middleware"
	"github.com/lingomate/backend/internal/repositories"
)

// Run bootstraps the LingoMate backend application.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, or reconcile")
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "reconcile":
		return runReconcile(ctx)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}

	logger := logging.New(os.Stdout, cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func serve(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	deps, err := buildDependencies(ctx, store, cfg, logger)
	if err != nil {
		return err
	}

	router := handlers.NewRouter(deps)
	handler := middleware.RequestLogger(logger)(router)

	srv := httpserver.New(cfg.AppPort, handler)

	logger.Info("starting http server", "port", cfg.AppPort, "store", cfg.Store, "env", cfg.Env)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func runReconcile(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(store, logger)

	ctx = logging.WithLogger(ctx, logger)
	report, err := friends.NewReconciler(store.Users(), store.Friends()).Run(ctx)
	if err != nil {
		return fmt.Errorf("reconcile friendships: %w", err)
	}

	logger.Info("friendship reconciliation finished",
		"checked", report.Checked,
		"repaired", report.Repaired,
		"failed", report.Failed,
	)
	if report.Failed > 0 {
		return fmt.Errorf("reconcile friendships: %d requests could not be repaired", report.Failed)
	}
	return nil
}

func closeStore(store repositories.Store, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()
	if err := store.Close(ctx); err != nil {
		logger.Warn("close store", "error", err)
	}
}
