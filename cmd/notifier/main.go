package main

import (
	"go.uber.org/zap"

	"mailbridge/config"
	contracts "mailbridge/contracts/mq"
	"mailbridge/internal/mqhandler"
	"mailbridge/internal/notify"
	"mailbridge/internal/repository"
	"mailbridge/pkg/db"
	"mailbridge/pkg/logger"
	"mailbridge/pkg/mq"
	"mailbridge/pkg/redis"
)

func main() {
	// 1. Load config
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	// 2. Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// 3. Init Redis
	rdb := redis.NewClient(cfg.Redis)
	defer rdb.Close()

	// 4. Init MQ publisher (used for dead-lettering)
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("MQ publisher initialization failed", zap.Error(err))
	}
	defer publisher.Close()

	// 5. Init collaborators
	emailRepo := repository.NewEmailRepository(dbConn)
	suppression := repository.NewSuppressionStore(rdb)
	sender := notify.NewSMTPSender(cfg.Outbound, log)

	handler := mqhandler.NewNotificationRequestedHandler(
		emailRepo,
		suppression,
		sender,
		publisher,
		log,
	)

	// 6. Init consumer for notification.requested events
	consumer, err := mq.NewConsumer(
		cfg.MQ.URL,
		contracts.RoutingKeyNotificationRequested,
		contracts.RoutingKeyNotificationRequested,
		log,
	)
	if err != nil {
		log.Fatal("MQ consumer initialization failed", zap.Error(err))
	}
	defer consumer.Close()

	if err := consumer.EnsureDLQ(); err != nil {
		log.Fatal("DLQ declaration failed", zap.Error(err))
	}

	consumer.SetHandler(handler.HandleNotificationRequested)

	if err := consumer.StartConsuming(); err != nil {
		log.Fatal("Consumer failed", zap.Error(err))
	}
}
