package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/claimsagent/internal/server"
)

var serveAddr string

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the extraction and model endpoints over HTTP",
	Long: `Start the HTTP API:
  GET  /health
  GET  /metrics
  GET  /api/v1/agent/claims-system/{claim_id}
  GET  /api/v1/agent/claims-system/{claim_id}/assessment
  POST /api/v1/models/risk-classification
  POST /api/v1/models/sentiment-analysis

Callers authenticate to the claims system with their own bearer token
(Authorization header) and are named in the audit log by X-User-ID.

Example:
  claimsagent serve --addr :8080
  claimsagent serve --fixtures claims.json`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	cfg := a.cfg.Server
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	srv, err := server.New(cfg, server.Deps{
		Extractor: a.extractor,
		Inference: a.inference,
		Assessor:  a.agent,
		Metrics:   a.metrics,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutdown signal received", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
