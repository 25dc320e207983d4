package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/pedigree/internal/config"
	"github.com/MeKo-Tech/pedigree/internal/pipeline"
	"github.com/MeKo-Tech/pedigree/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the pedigree API",
	Long: `Start an HTTP server that provides REST API endpoints for diagram processing.

The server provides the following endpoints:
  POST /image-info/   - Process an uploaded diagram (multipart field "file")
  GET  /ws/image-info - WebSocket with per-member progress
  GET  /download-log  - Download the service log
  GET  /health        - Health check endpoint
  GET  /metrics       - Prometheus metrics

Examples:
  pedigree serve
  pedigree serve --port 8080
  pedigree serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()
		applyServeOverrides(cmd, &cfg.Server)
		if err := cfg.Validate(); err != nil {
			return err
		}
		sc := cfg.Server

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pl, err := pipeline.NewBuilder().
			WithConfig(cfg.ToPipelineConfig()).
			WithLogger(slog.Default()).
			Build()
		if err != nil {
			return fmt.Errorf("failed to build pipeline: %w", err)
		}

		logFile := ""
		if appLogger != nil {
			logFile = appLogger.Path()
		}
		srv, err := server.NewServer(server.Config{
			CORSOrigin:  sc.CORSOrigin,
			MaxUploadMB: int64(sc.MaxUploadMB),
			SaveDir:     sc.SaveDir,
			LogFile:     logFile,
			RateLimit: server.RateLimitConfig{
				Enabled:           sc.RateLimit.Enabled,
				RequestsPerMinute: sc.RateLimit.RequestsPerMinute,
				Burst:             sc.RateLimit.Burst,
			},
		}, pl, slog.Default())
		if err != nil {
			_ = pl.Close()
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		mux := http.NewServeMux()
		srv.SetupRoutes(mux)

		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", sc.Host, sc.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(sc.TimeoutSec) * time.Second,
			WriteTimeout:      time.Duration(sc.TimeoutSec) * time.Second,
		}

		go func() {
			slog.Info("Starting pedigree server", "host", sc.Host, "port", sc.Port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", sc.ShutdownTimeout))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			time.Duration(sc.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		if err := srv.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}
		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// applyServeOverrides copies explicitly set flags over the configuration.
func applyServeOverrides(cmd *cobra.Command, sc *config.ServerConfig) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		sc.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		sc.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		sc.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-upload-size") {
		sc.MaxUploadMB, _ = flags.GetInt("max-upload-size")
	}
	if flags.Changed("timeout") {
		sc.TimeoutSec, _ = flags.GetInt("timeout")
	}
	if flags.Changed("shutdown-timeout") {
		sc.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
	}
	if flags.Changed("save-dir") {
		sc.SaveDir, _ = flags.GetString("save-dir")
	}
	if flags.Changed("rate-limit-enabled") {
		sc.RateLimit.Enabled, _ = flags.GetBool("rate-limit-enabled")
	}
	if flags.Changed("requests-per-minute") {
		sc.RateLimit.RequestsPerMinute, _ = flags.GetInt("requests-per-minute")
	}
	if flags.Changed("rate-limit-burst") {
		sc.RateLimit.Burst, _ = flags.GetInt("rate-limit-burst")
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 60, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().String("save-dir", "uploads", "directory uploaded diagrams are stored in")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("rate-limit-burst", 10, "requests a client may send at once")
}
