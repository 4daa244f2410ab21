package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"marketstream/config"
	"marketstream/internal/app"
	"marketstream/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("failed to build service", zap.Error(err))
	}

	if err := svc.Run(ctx); err != nil {
		log.Fatal("service failed", zap.Error(err))
	}
	log.Info("bye")
}
