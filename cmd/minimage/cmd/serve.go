package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/minimage/pkg/minimage"
	"github.com/tendant/minimage/pkg/minimage/api"
	"github.com/tendant/minimage/pkg/minimage/config"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the background reaper",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var opts []config.Option
	if servePort != "" {
		opts = append(opts, config.WithPort(servePort))
	}
	cfg, logger, err := loadConfig(opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, closeStore, err := cfg.BuildService(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("Failed to close metadata store", "error", err)
		}
	}()

	var reaper *minimage.Reaper
	if cfg.ReaperEnabled {
		reaper = cfg.BuildReaper(svc, logger)
		reaper.Start(context.Background())
	}

	handler := api.NewImageHandler(svc, api.Config{
		UploadPassword:         cfg.UploadPassword,
		MaxUploadBytes:         cfg.MaxUploadBytes(),
		DefaultTTLSeconds:      cfg.DefaultTTLSeconds,
		Version:                cfg.ImageVersion,
		ReaperEnabled:          cfg.ReaperEnabled,
		CleanupIntervalSeconds: cfg.CleanupIntervalSeconds,
	}, api.WithHandlerLogger(logger))

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, 60*time.Second),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("minimage starting",
			"port", cfg.Port,
			"env", cfg.Environment,
			"metadata_url", redactURL(cfg.MetadataURL),
			"storage_url", cfg.StorageURL,
			"reaper_enabled", cfg.ReaperEnabled,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	case runErr = <-serveErr:
		logger.Error("Server error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// In-flight requests are done; stop reaping before the store closes.
	if reaper != nil {
		reaper.Stop()
	}

	logger.Info("Server exiting")
	return runErr
}
