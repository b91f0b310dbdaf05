package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pageindex/internal/api"
	"github.com/dgallion1/pageindex/internal/errs"
	"github.com/dgallion1/pageindex/internal/pipeline"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API for uploads, document management, search and
question answering. Uploads are indexed asynchronously by a worker pool.
Requests must carry "Authorization: Bearer <server.api_key>" except /health.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	if cfg.Server.APIKey == "" && !isLoopback(addr) {
		return &errs.ConfigurationError{Field: "server.api_key", Msg: "is required unless the server listens on a loopback address"}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, log, true, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	orch := pipeline.NewOrchestrator(pipeline.OrchestratorOptions{
		WorkerCount:  cfg.Server.WorkerCount,
		MaxQueueSize: cfg.Server.MaxQueueSize,
		JobTTL:       cfg.Server.JobTTL,
	}, a.indexer, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, a.engine, a.caller, log, api.Options{
		APIKey:         cfg.Server.APIKey,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
	}()

	log.Info("starting pageindex", "addr", addr, "model", a.caller.Model(), "documents", a.dir.Len())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
