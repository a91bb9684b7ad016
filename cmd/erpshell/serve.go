package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/erpshell/internal/config"
	"github.com/JonMunkholm/erpshell/internal/logging"
	"github.com/JonMunkholm/erpshell/internal/schema"
	"github.com/JonMunkholm/erpshell/internal/web"
)

func newServeCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP host over the screens in SCHEMA_DIR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded over the environment")
	return cmd
}

func runServe(ctx context.Context, envFile string) error {
	// Overload overwrites existing env vars
	if err := godotenv.Overload(envFile); err != nil {
		slog.Info("no .env file found, using environment variables", "path", envFile)
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)", "path", envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("configuration loaded",
		"addr", cfg.Server.Addr(),
		"schema_dir", cfg.Schema.Dir,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	reg := schema.NewRegistry()
	n, err := reg.LoadDir(cfg.Schema.Dir)
	if err != nil {
		return err
	}
	log.Info("screens registered", "count", n, "groups", len(reg.Groups()))
	for _, group := range reg.Groups() {
		log.Debug("screen group", "group", group, "screens", len(reg.ByGroup(group)))
	}

	server := web.New(cfg, reg, web.NewStore(), log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	return <-errCh
}
