package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"evalgo.org/kiwi/internal/api"
	"evalgo.org/kiwi/internal/logging"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long: `Start the HTTP API server. Unsettled jobs recorded in the CouchDB
ledger are watched again on startup.`,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	// The hub doubles as the orchestrator's notifier
	hub := api.NewHub()
	a, err := newApp(ctx, hub)
	if err != nil {
		return err
	}

	var dbInfo api.DatabaseInfoProvider
	if a.ledger != nil {
		dbInfo = a.ledger
	}

	// Create API server
	server := api.New(cfg, a.orch, hub, dbInfo)

	if _, err := a.orch.ResumeWatching(ctx); err != nil {
		logging.Warnf("could not resume unsettled jobs: %v", err)
	}

	// Start server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logging.Infof("shutdown signal received")
	case err := <-errChan:
		if err != nil {
			_ = a.Close(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return a.Close(shutdownCtx)
}
