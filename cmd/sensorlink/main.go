package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"sensorlink/internal/app"
	"sensorlink/internal/config"
	"sensorlink/internal/infrastructure/serialport"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "sensorlink: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Configuration (defaults, file, environment, flags)
	cfg, err := config.FromArgs("sensorlink", os.Args[1:])
	if err != nil {
		return err
	}

	// 2. Serial transport (infrastructure)
	transport := serialport.NewTransport()

	// 3. Application: storage, ingestion, API, MQTT, port monitor
	a, err := app.New(cfg, transport, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	log := a.Logger()
	log.Info("Application starting (variant %s, database %s)", cfg.Serial.Variant, a.Repo.Path())

	// 4. Run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Info("Shutdown requested")
	return nil
}
