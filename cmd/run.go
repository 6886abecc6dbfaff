package cmd

import (
	"context"
	"time"

	"satsledger/config"

	log "github.com/sirupsen/logrus"
)

// Run wires the ledger and its event sinks, then serves until ctx is cancelled
func Run(ctx context.Context) error {
	cfg := config.Get()
	ConfigureLogging(cfg)

	log.Info("Starting satsledger...")

	app, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}

	log.WithField("environment", cfg.Environment).Info("Ledger is running")
	<-ctx.Done()

	log.Info("Shutting down ledger...")

	// Give cleanup operations time to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	app.drainEvents(shutdownCtx)
	app.close(shutdownCtx)

	select {
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout exceeded")
	case <-time.After(1 * time.Second):
		log.Info("Shutdown completed")
	}

	return nil
}
