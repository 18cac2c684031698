// Command walletmemoryd runs the wallet memory layer: the upstream
// ingestion pipeline, cache, PnL and risk engines, event fan-out, and
// degradation controller. Grounded on the teacher's cmd/appserver/main.go
// entrypoint shape: load config, construct the Application, start it, and
// wait for a shutdown signal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/walletmemory/core/internal/app"
	"github.com/walletmemory/core/internal/config"
	"github.com/walletmemory/core/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New("walletmemory", cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("construct application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}
	log.Info(ctx, "walletmemory started", map[string]interface{}{"environment": cfg.Server.Environment})

	<-ctx.Done()
	log.Info(context.Background(), "shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return application.Stop(shutdownCtx)
}
