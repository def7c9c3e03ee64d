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

	"github.com/MeKo-Tech/ctcbeam/internal/server"
	"github.com/spf13/cobra"
)

// newServeCommand builds the serve command.
func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for the decode API",
		Long: `Start an HTTP server that decodes probability matrices sent as JSON.

The server provides the following endpoints:
  POST /decode        - Decode one [T][C] matrix
  POST /decode/batch  - Decode a [N][T][C] batch
  GET  /ws            - WebSocket decoding
  GET  /alphabet      - Decoder alphabet
  GET  /health        - Health check endpoint
  GET  /metrics       - Prometheus metrics

Examples:
  ctcbeam serve --alphabet dict.txt
  ctcbeam serve --port 8080 --symbols 0123456789 --topk 3
  ctcbeam serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
		SilenceUsage: true,
		RunE:         runServeCommand,
	}

	addDecoderFlags(cmd)
	cmd.Flags().StringP("host", "H", "localhost", "server host")
	cmd.Flags().IntP("port", "p", 8080, "server port")
	cmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	cmd.Flags().Int("max-upload-mb", 50, "maximum request body size in MB")
	cmd.Flags().Int("timeout", 30, "request timeout in seconds")
	cmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	// Rate limiting flags
	cmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	cmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	cmd.Flags().Int("requests-per-hour", 1000, "maximum requests per hour per client")
	cmd.Flags().Int("max-requests-per-day", 5000, "maximum requests per day per client")
	cmd.Flags().Int64("max-data-per-day", 100*1024*1024, "maximum request bytes per day per client")
	return cmd
}

func serverConfigFromFlags(cmd *cobra.Command) (server.Config, time.Duration) {
	cfg := GetConfig()
	flags := cmd.Flags()

	s := cfg.Server
	if flags.Changed("host") {
		s.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		s.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		s.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-upload-mb") {
		s.MaxUploadMB, _ = flags.GetInt("max-upload-mb")
	}
	if flags.Changed("timeout") {
		s.TimeoutSec, _ = flags.GetInt("timeout")
	}
	if flags.Changed("shutdown-timeout") {
		s.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
	}
	if flags.Changed("rate-limit-enabled") {
		s.RateLimitEnabled, _ = flags.GetBool("rate-limit-enabled")
	}
	if flags.Changed("requests-per-minute") {
		s.RequestsPerMinute, _ = flags.GetInt("requests-per-minute")
	}
	if flags.Changed("requests-per-hour") {
		s.RequestsPerHour, _ = flags.GetInt("requests-per-hour")
	}
	if flags.Changed("max-requests-per-day") {
		s.MaxRequestsPerDay, _ = flags.GetInt("max-requests-per-day")
	}
	if flags.Changed("max-data-per-day") {
		s.MaxDataPerDay, _ = flags.GetInt64("max-data-per-day")
	}

	return server.Config{
		Host:        s.Host,
		Port:        s.Port,
		CORSOrigin:  s.CORSOrigin,
		MaxUploadMB: int64(s.MaxUploadMB),
		TimeoutSec:  s.TimeoutSec,
		Decoder:     decoderConfigFromFlags(cfg, cmd),
		Model:       modelConfigFromFlags(cfg, cmd),
		RateLimit: server.RateLimitConfig{
			Enabled:           s.RateLimitEnabled,
			RequestsPerMinute: s.RequestsPerMinute,
			RequestsPerHour:   s.RequestsPerHour,
			MaxRequestsPerDay: s.MaxRequestsPerDay,
			MaxDataPerDay:     s.MaxDataPerDay,
		},
		Logger: slog.Default(),
	}, time.Duration(s.ShutdownTimeout) * time.Second
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	serverConfig, shutdownTimeout := serverConfigFromFlags(cmd)
	if serverConfig.Port < 1 || serverConfig.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", serverConfig.Port)
	}

	decodeServer, err := server.NewServer(serverConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	defer func() { _ = decodeServer.Close() }()

	mux := http.NewServeMux()
	decodeServer.SetupRoutes(mux)

	timeout := time.Duration(serverConfig.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting decode server", "host", serverConfig.Host, "port", serverConfig.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := decodeServer.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	}
	slog.Info("Graceful shutdown completed")
	return nil
}
