package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shutterbook/config"
	"shutterbook/cron"
	"shutterbook/database"
	inboxRepo "shutterbook/database/repository/inbox"
	reservationRepo "shutterbook/database/repository/reservation"
	settlementRepo "shutterbook/database/repository/settlement"
	"shutterbook/handlers"
	"shutterbook/middleware"
	"shutterbook/routes"
	"shutterbook/services/ledger"
	"shutterbook/services/notification"
	"shutterbook/services/reservation"
	"shutterbook/services/settlement"
	"shutterbook/services/settlement/settlementtest"
	"shutterbook/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type stores struct {
	reservations reservationRepo.ReservationRepository
	settlements  settlementRepo.SettlementRepository
	inbox        inboxRepo.InboxRepository
	mongo        *mongo.Client
}

func openStores(ctx context.Context, logger *zap.Logger) (*stores, error) {
	cfg := config.AppConfig
	if cfg.StorageDriver == "memory" {
		logger.Warn("Using in-memory storage; data is lost on restart")
		return &stores{
			reservations: reservationRepo.NewMemoryReservationRepo(),
			settlements:  settlementRepo.NewMemorySettlementRepo(),
			inbox:        inboxRepo.NewMemoryInboxRepo(),
		}, nil
	}

	client, err := database.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	db := client.Database(cfg.DatabaseName)

	reservations, err := reservationRepo.NewMongoReservationRepo(db)
	if err != nil {
		return nil, err
	}
	settlements, err := settlementRepo.NewMongoSettlementRepo(db)
	if err != nil {
		return nil, err
	}
	inbox, err := inboxRepo.NewMongoInboxRepo(db)
	if err != nil {
		return nil, err
	}
	return &stores{reservations: reservations, settlements: settlements, inbox: inbox, mongo: client}, nil
}

func newProcessor(logger *zap.Logger) settlement.Processor {
	cfg := config.AppConfig
	if cfg.StripeKey != "" {
		return settlement.NewStripeGateway(cfg.StripeKey, logger)
	}
	if config.IsProduction() {
		logger.Fatal("main: STRIPE_KEY is required in production")
	}
	logger.Warn("STRIPE_KEY not set, using the in-process fake processor")
	return settlementtest.NewFakeProcessor()
}

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()
	cfg := config.AppConfig

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	st, err := openStores(ctx, logger)
	if err != nil {
		logger.Sugar().Fatalf("main: failed to open storage: %v", err)
	}

	// Redis is optional: without it the sweep runs on local tickers with no cross-instance lock.
	var lockClient, queueClient *redis.Client
	if cfg.RedisAddr != "" {
		if lockClient, err = utils.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisLockDB); err != nil {
			logger.Warn("Redis unavailable, falling back to local scheduling", zap.Error(err))
			lockClient = nil
		} else if queueClient, err = utils.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisQueueDB); err != nil {
			logger.Warn("Redis queue database unavailable, falling back to local scheduling", zap.Error(err))
			_ = lockClient.Close()
			lockClient, queueClient = nil, nil
		}
	}

	// Notifications: the inbox is authoritative, push and broker delivery are best effort.
	var secondary []notification.Notifier
	alerters := []notification.OpsAlerter{notification.NewLogAlerter(logger)}
	if cfg.FirebaseCredentials != "" {
		messagingClient, err := utils.NewMessagingClient(ctx, cfg.FirebaseCredentials)
		if err != nil {
			logger.Warn("Push notifications disabled", zap.Error(err))
		} else {
			secondary = append(secondary, notification.NewPushNotifier(messagingClient, logger))
		}
	}
	var publisher *notification.EventPublisher
	if cfg.RabbitMQURL != "" {
		publisher, err = notification.DialEventPublisher(cfg.RabbitMQURL, cfg.SettlementExchange, logger)
		if err != nil {
			logger.Warn("Event publishing disabled", zap.Error(err))
		} else {
			secondary = append(secondary, publisher)
			alerters = append(alerters, publisher)
		}
	}
	notifier := notification.NewFanout(logger, notification.NewInboxNotifier(st.inbox), secondary...)
	alerts := notification.NewAlertFanout(logger, alerters...)

	// Settlement and lifecycle services.
	writer := ledger.NewWriter(st.settlements, st.reservations, notifier, alerts, logger)
	orchestrator := settlement.NewOrchestrator(newProcessor(logger), writer, st.settlements, st.reservations, logger, settlement.Options{
		Currency:         cfg.Currency,
		ProcessorTimeout: cfg.ProcessorTimeout,
	})
	machine := reservation.NewMachine(st.reservations, orchestrator, st.settlements, notifier, logger)

	var locker cron.Locker = cron.NoopLocker{}
	if lockClient != nil {
		locker = cron.NewRedisLocker(lockClient)
	}
	sweeper := cron.NewSweeper(st.reservations, machine, locker, cfg.SweepLockTTL, logger)

	var partyTrigger cron.PartySweepTrigger = cron.NewInlinePartyTrigger(sweeper)
	var worker *cron.Worker
	var queue *asynq.Client
	if queueClient != nil {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisQueueDB}
		worker, err = cron.StartSettlementWorker(cron.WorkerConfig{
			Redis:             redisOpt,
			SweepInterval:     cfg.SweepInterval,
			ReconcileInterval: cfg.ReconcileInterval,
		}, sweeper, orchestrator, logger)
		if err != nil {
			logger.Sugar().Fatalf("main: failed to start settlement worker: %v", err)
		}
		queue = asynq.NewClient(redisOpt)
		partyTrigger = cron.NewQueuedPartyTrigger(queue)
	} else {
		go cron.RunLocal(ctx, sweeper, orchestrator, cfg.SweepInterval, cfg.ReconcileInterval, logger)
	}

	var redisClients []*redis.Client
	for _, c := range []*redis.Client{lockClient, queueClient} {
		if c != nil {
			redisClients = append(redisClients, c)
		}
	}
	monitor := utils.NewHealthMonitor(cfg.StorageDriver, redisClients, st.mongo)
	monitor.Start(ctx, time.Minute)

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.NewRateLimiter(cfg.MaxRequestsPerMin).Middleware())

	handlerBundle := &handlers.HandlerBundle{
		Reservations:  machine,
		Inbox:         st.inbox,
		PartySweep:    partyTrigger,
		WebhookSecret: cfg.StripeWebhookSecret,
		Logger:        logger,
	}
	routes.RegisterRoutes(router, handlerBundle, monitor)

	// Start the HTTP server.
	port := cfg.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Sugar().Errorf("main: server forced to shutdown: %v", err)
	}

	stop()
	if worker != nil {
		worker.Shutdown()
	}
	if queue != nil {
		_ = queue.Close()
	}
	if publisher != nil {
		_ = publisher.Close()
	}
	for _, c := range redisClients {
		_ = c.Close()
	}
	if st.mongo != nil {
		_ = st.mongo.Disconnect(shutdownCtx)
	}
	_ = logger.Sync()

	logger.Sugar().Info("main: server stopped gracefully")
}
