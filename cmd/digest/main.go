package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"notifgate/internal/config"
	"notifgate/internal/engine"
	"notifgate/internal/repository"
	"notifgate/pkg/db"
	"notifgate/pkg/logger"
	"notifgate/pkg/mq"
)

func main() {
	log := logger.NewLogger()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Starting digest aggregator...")

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	stagingRepo := repository.NewStagingRepository(dbConn)
	subscriptionRepo := repository.NewSubscriptionRepository(dbConn)

	runner := engine.NewDigestRunner(
		stagingRepo,
		subscriptionRepo,
		publisher,
		nil, // default accumulator
		cfg.Digest.KeyTimeout,
		log,
	)
	scheduler := engine.NewDigestScheduler(runner, cfg.Digest.Interval, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
}
