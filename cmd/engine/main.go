package main

import (
	"context"

	"go.uber.org/zap"

	contracts "notifgate/contracts/mq"
	"notifgate/internal/config"
	"notifgate/internal/dedup"
	"notifgate/internal/engine"
	"notifgate/internal/httpserver"
	"notifgate/internal/mqhandler"
	"notifgate/internal/processor"
	"notifgate/internal/repository"
	"notifgate/pkg/db"
	"notifgate/pkg/logger"
	"notifgate/pkg/mq"
	"notifgate/pkg/redisclient"
)

func main() {
	log := logger.NewLogger()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Starting dispatch engine...")

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	if err := repository.EnsureSchema(context.Background(), dbConn); err != nil {
		log.Fatal("Schema bootstrap failed", zap.Error(err))
	}

	rdb := redisclient.New(cfg.Redis)
	defer rdb.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories
	eventRepo := repository.NewEventRepository(dbConn)
	endpointRepo := repository.NewEndpointRepository(dbConn)
	groupRepo := repository.NewBehaviorGroupRepository(dbConn)
	deliveryRepo := repository.NewDeliveryRepository(dbConn)
	subscriptionRepo := repository.NewSubscriptionRepository(dbConn)
	stagingRepo := repository.NewStagingRepository(dbConn)

	// Pipeline
	deduper := dedup.NewDeduper(rdb, cfg.Dedup.TTL, log)
	validator, err := engine.NewEnvelopeValidator()
	if err != nil {
		log.Fatal("Failed to build envelope validator", zap.Error(err))
	}
	resolver := engine.NewResolver(groupRepo, endpointRepo, log)
	dispatcher := engine.NewDispatcher(
		processor.NewRegistry(),
		deliveryRepo,
		subscriptionRepo,
		stagingRepo,
		publisher,
		log,
	)
	ingestor := engine.NewIngestor(deduper, validator, eventRepo, resolver, dispatcher, log)
	reconciler := engine.NewReconciler(deliveryRepo, endpointRepo, publisher, cfg.Delivery.DisableThreshold, log)

	ingressHandler := mqhandler.NewIngressHandler(ingestor, log)
	callbackHandler := mqhandler.NewCallbackHandler(reconciler, log)

	// (1) Ingress consumer
	log.Info("Initializing ingress consumer", zap.String("queue", contracts.IngressQueue))
	ingressConsumer, err := mq.NewConsumer(cfg.MQ.URL, contracts.IngressQueue, contracts.IngressRoutingKey, log)
	if err != nil {
		log.Fatal("failed to init ingress consumer", zap.Error(err))
	}
	ingressConsumer.SetHandler(ingressHandler.Handle)
	go func() {
		log.Info("Starting ingress consumer")
		if err := ingressConsumer.StartConsuming(); err != nil {
			log.Fatal("ingress consumer failed", zap.Error(err))
		}
	}()
	defer ingressConsumer.Close()

	// (2) Connector-callback consumer
	log.Info("Initializing callback consumer", zap.String("queue", contracts.CallbackQueue))
	callbackConsumer, err := mq.NewConsumer(cfg.MQ.URL, contracts.CallbackQueue, contracts.CallbackRoutingKey, log)
	if err != nil {
		log.Fatal("failed to init callback consumer", zap.Error(err))
	}
	callbackConsumer.SetHandler(callbackHandler.Handle)
	go func() {
		log.Info("Starting callback consumer")
		if err := callbackConsumer.StartConsuming(); err != nil {
			log.Fatal("callback consumer failed", zap.Error(err))
		}
	}()
	defer callbackConsumer.Close()

	log.Info("All consumers started, engine is ready to process messages")

	router := httpserver.NewRouter(dbConn, rdb)
	if err := router.Run(cfg.Server.Port); err != nil {
		log.Fatal("HTTP server failed", zap.Error(err))
	}
}
