// Package main implements the hivefarm entry point: bulk account
// registration and continuous point farming against the remote API, driven
// by an interactive menu or the hidden farm-worker mode used by the
// multiprocess distributor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/solazh/hivefarm/internal/config"
	"github.com/solazh/hivefarm/internal/engine/distrib"
	"github.com/solazh/hivefarm/internal/platform/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("hivefarm: %v", err)
	}
}

func run() error {
	// A .env file is optional; real environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(cfg, appLogger)
	if err != nil {
		return err
	}
	defer app.close()

	// The distributor re-invokes this binary with the farm-worker subcommand;
	// everything else is the interactive path.
	if len(os.Args) > 1 && os.Args[1] == distrib.WorkerCommand {
		return runWorker(ctx, app, os.Args[2:])
	}

	return app.runMenu(ctx)
}

func runWorker(ctx context.Context, app *application, args []string) error {
	fs := flag.NewFlagSet(distrib.WorkerCommand, flag.ContinueOnError)
	manifestPath := fs.String("manifest", "", "path to the partition manifest")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *manifestPath == "" {
		return errors.New("farm-worker requires --manifest")
	}
	return app.runFarmWorker(ctx, *manifestPath)
}
