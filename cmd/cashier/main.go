package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloudpay-cashier/internal/app"
	"cloudpay-cashier/internal/config"
	"cloudpay-cashier/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, os.LookupEnv, logger)
	if err != nil {
		logger.Error("startup failed", "error", err.Error())
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("cashier stopped", "error", err.Error())
		os.Exit(1)
	}
}
