package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailbridge/config"
	"mailbridge/internal/api"
	"mailbridge/internal/apiclient"
	"mailbridge/internal/mime"
	"mailbridge/internal/notify"
	"mailbridge/internal/repository"
	"mailbridge/internal/service"
	"mailbridge/internal/smtp"
	"mailbridge/pkg/db"
	"mailbridge/pkg/logger"
	"mailbridge/pkg/mq"
	"mailbridge/pkg/redis"
	"mailbridge/pkg/util"
)

func main() {
	// 1. Load config
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// 3. Init Redis
	rdb := redis.NewClient(cfg.Redis)
	defer rdb.Close()

	// 4. Init RabbitMQ publisher for notification events
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("MQ publisher initialization failed", zap.Error(err))
	}
	defer publisher.Close()

	// 5. Init repositories
	emailRepo := repository.NewEmailRepository(dbConn)
	attachmentRepo := repository.NewAttachmentRepository(dbConn)
	userRepo := repository.NewUserRepository(dbConn)
	suppression := repository.NewSuppressionStore(rdb)

	// 6. Init services
	extractor := mime.NewExtractor(log)
	infraAPI := apiclient.NewClient(cfg.API.BaseURL, cfg.API.Key)
	notifier := notify.NewMQNotifier(publisher, cfg.Outbound.Enabled, log)
	deduper := util.NewDeduper(rdb, 24*time.Hour, log)
	authService := service.NewAuthService(userRepo, cfg.JWT.Secret)

	processor := service.NewProcessor(
		extractor,
		emailRepo,
		attachmentRepo,
		infraAPI,
		notifier,
		suppression,
		deduper,
		log,
	)

	// 7. Init SMTP listener
	smtpServer, err := smtp.NewServer(cfg.SMTP, processor, log)
	if err != nil {
		log.Fatal("SMTP server initialization failed", zap.Error(err))
	}

	go func() {
		if err := smtpServer.ListenAndServe(ctx); err != nil {
			log.Fatal("SMTP server failed", zap.Error(err))
		}
	}()

	// 8. Init admin API
	authHandler := api.NewAuthHandler(authService)
	emailQueryHandler := api.NewEmailQueryHandler(emailRepo, attachmentRepo)
	router := api.NewRouter(authHandler, emailQueryHandler, cfg.JWT.Secret)

	if err := router.Run(cfg.Server.Port); err != nil {
		log.Fatal("HTTP server failed", zap.Error(err))
	}
}
