package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"apte/config"
	"apte/logger"
	"apte/store"
)

func main() {
	// Stdout only until the configured sinks are known.
	log := logger.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	lc := cfg.Logging()
	if err := log.Configure(lc.Level, lc.Format, lc.File, lc.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"environment":  cfg.Environment(),
		"exchange":     cfg.Exchange(),
		"trading_mode": cfg.TradingMode(),
		"symbols":      cfg.Symbols(),
		"collection":   cfg.Collection(),
	}).Info("starting apte")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if ns := cfg.MetricsNamespace(); ns != "" {
		logger.InitCloudWatch(ctx, "", ns)
	}

	conn := store.NewConnection(cfg)
	client, err := conn.Client(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to connect state store")
		os.Exit(1)
	}

	logger.StartReport(ctx, log, cfg.HeartbeatInterval())
	runHeartbeat(ctx, client, cfg)

	log.Info("apte stopped")
}

// runHeartbeat records liveness in the state store until ctx is cancelled.
func runHeartbeat(ctx context.Context, client *store.Client, cfg *config.Config) {
	log := logger.GetLogger().WithComponent("heartbeat")
	ticker := time.NewTicker(cfg.HeartbeatInterval())
	defer ticker.Stop()

	beat := func() {
		_, err := client.Write(ctx, "", "heartbeat", store.Fields{
			"environment":  cfg.Environment(),
			"trading_mode": string(cfg.TradingMode()),
			"exchange":     string(cfg.Exchange()),
			"symbols":      cfg.Symbols(),
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			log.WithError(err).Warn("heartbeat write failed")
		}
	}

	beat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}
