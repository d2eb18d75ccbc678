package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/logflow/dfgflow/pkg/config"
	"github.com/logflow/dfgflow/pkg/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start an HTTP server exposing discovery over REST.

Endpoints:
  POST /api/discover   event log body -> graph JSON
  POST /api/render     event log body -> SVG, PNG, PDF or DOT
  GET  /api/health     liveness
  GET  /metrics        Prometheus metrics

Query parameters select the input format and columns, e.g.
  curl --data-binary @events.csv 'localhost:8080/api/discover?format=csv&case_id=order'

Examples:
  dfgflow serve
  dfgflow serve --addr 127.0.0.1:9000 --cache redis://localhost:6379/0`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default from config, :8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	// Request bodies are never files on disk.
	noProgress = true

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.Flags().Changed("addr") {
		a.cfg.Server.Addr = serveAddr
	}
	maxUpload, err := config.ParseSize(a.cfg.Server.MaxUploadSize)
	if err != nil {
		return err
	}
	defaults, err := a.pipelineConfig()
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr:          a.cfg.Server.Addr,
		RateLimit:     a.cfg.Server.RateLimit,
		Burst:         a.cfg.Server.Burst,
		MaxUploadSize: maxUpload,
		Write:         a.writeOptions(),
	}, defaults, a.cache, a.metrics, a.logger)

	httpServer := srv.HTTPServer()
	listener, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", httpServer.Addr, err)
	}
	a.logger.Info("dfgflow server started",
		zap.String("addr", listener.Addr().String()),
		zap.String("version", version),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return httpServer.Shutdown(shutdownCtx)
}
