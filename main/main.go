package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/benchcell/urcell"
	"github.com/benchcell/urcell/dashboard"
	"github.com/benchcell/urcell/internal/wconfig"

	"go.viam.com/rdk/logging"
)

func main() {
	configPath := flag.String("config", "", "path to workcell config JSON file")
	flag.Parse()

	logger := logging.NewDebugLogger("urcell")

	if *configPath == "" {
		logger.Fatal("-config flag is required")
	}
	cell, err := wconfig.Load(*configPath)
	if err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := urcell.DefaultConfig(cell.Host)
	cfg.SSH = dashboard.SSHConfig{User: cell.SSHUser, Password: cell.SSHPassword}

	r, err := urcell.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}
	defer r.Close()

	logger.Info("Connected to workcell")

	if err := r.Initialize(ctx); err != nil {
		logger.Fatal(err)
	}

	if err := urcell.AssembleCell(ctx, r); err != nil {
		logger.Fatal(err)
	}
}
