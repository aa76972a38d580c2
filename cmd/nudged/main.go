// Command nudged runs the notification server: broker client, presence
// tracker, delivery orchestrator, and the HTTP operator API.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"nudge/internal/config"
	"nudge/internal/daemon"
	"nudge/internal/logging"
	"nudge/internal/registry"
)

func main() {
	configFlag := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := registry.Open(cfg)
	if err != nil {
		logger.Error("open registry store", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, store, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		store.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("nudged shutting down")
}
