package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/neurolancer/backend/internal/cache"
	"github.com/neurolancer/backend/internal/config"
	"github.com/neurolancer/backend/internal/db"
	"github.com/neurolancer/backend/internal/gateway"
	"github.com/neurolancer/backend/internal/goroutine"
	httpHandlers "github.com/neurolancer/backend/internal/http/handlers"
	"github.com/neurolancer/backend/internal/http/middleware"
	httpRouter "github.com/neurolancer/backend/internal/http/router"
	"github.com/neurolancer/backend/internal/logger"
	"github.com/neurolancer/backend/internal/queue"
	"github.com/neurolancer/backend/internal/repository"
	"github.com/neurolancer/backend/internal/repository/common"
	"github.com/neurolancer/backend/internal/scheduler"
	"github.com/neurolancer/backend/internal/service"
	"github.com/neurolancer/backend/internal/storage"
	"github.com/neurolancer/backend/internal/validation"
	"github.com/neurolancer/backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logger.Init(cfg.LogLevel)
	if cfg.Env == "development" {
		logger.SetTextFormatter()
	}

	if err := validation.RegisterBindings(); err != nil {
		log.Fatalf("main: %v", err)
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL, cfg.DBPool)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Redis необязателен: без него хаб работает в одном экземпляре, письма пишутся в лог.
	var rdb redis.UniversalClient
	if cfg.RedisURL != "" {
		rdb, err = cache.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("main: %v", err)
		}
		defer func() { _ = rdb.Close() }()
	}

	var outbox service.EmailSink = queue.NewMemoryOutbox()
	if rdb != nil {
		outbox = queue.NewRedisOutbox(rdb)
	}

	attachments, err := storage.NewAttachmentStorage(
		filepath.Join(cfg.MediaStoragePath, "attachments"), "/media/attachments", cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	// Репозитории.
	txRunner := common.NewTxRunner(dbConn)
	userRepo := repository.NewUserRepository(dbConn)
	orderRepo := repository.NewOrderRepository(dbConn)
	catalogRepo := repository.NewCatalogRepository(dbConn)
	ledgerRepo := repository.NewLedgerRepository(dbConn)
	balanceRepo := repository.NewBalanceRepository(dbConn)
	conversationRepo := repository.NewConversationRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)
	withdrawalRepo := repository.NewWithdrawalRepository(dbConn)
	referralRepo := repository.NewReferralRepository(dbConn)

	// Вебсокеты.
	hub := ws.NewHub(ctx)
	go hub.Run()
	broadcaster := ws.NewBroadcaster(hub, rdb)
	goroutine.SafeGoWithContext(ctx, broadcaster.Run)

	// Сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)
	gatewayClient := gateway.NewClient(cfg.Gateway)
	bankCache := service.NewCacheService(ctx)

	notificationService := service.NewNotificationService(notificationRepo, userRepo, outbox, broadcaster)
	orderService := service.NewOrderService(txRunner, orderRepo, ledgerRepo, balanceRepo, catalogRepo,
		conversationRepo, notificationService, broadcaster, cfg.Fees)
	paymentService := service.NewPaymentService(txRunner, orderRepo, catalogRepo, ledgerRepo, balanceRepo,
		userRepo, gatewayClient, notificationService, cfg.Fees, cfg.Gateway.CallbackURL())
	withdrawalService := service.NewWithdrawalService(txRunner, withdrawalRepo, ledgerRepo, balanceRepo,
		gatewayClient, bankCache, notificationService, cfg.Fees)
	referralService := service.NewReferralService(txRunner, referralRepo, userRepo, balanceRepo, ledgerRepo,
		notificationService, cfg.Referral, cfg.Fees)
	conversationService := service.NewConversationService(txRunner, conversationRepo,
		projectAccess{catalogRepo, orderRepo}, notificationService, notificationService, broadcaster, attachments)

	paymentService.SetReferralHook(referralService)
	paymentService.SetTransferReconciler(withdrawalService)
	hub.SetAccess(conversationService)

	// Сводки уведомлений по расписанию.
	digests, err := scheduler.NewDigestScheduler(notificationService, cfg.DigestDailyCron, cfg.DigestWeeklyCron)
	if err != nil {
		log.Fatalf("main: %v", err)
	}
	digests.Start(ctx)

	// HTTP хэндлеры.
	handlers := httpRouter.Handlers{
		Health:        httpHandlers.NewHealthHandler(dbConn, rdb),
		Payments:      httpHandlers.NewPaymentHandler(paymentService),
		Orders:        httpHandlers.NewOrderHandler(orderService, paymentService),
		Withdrawals:   httpHandlers.NewWithdrawalHandler(withdrawalService),
		Conversations: httpHandlers.NewConversationHandler(conversationService),
		Notifications: httpHandlers.NewNotificationHandler(notificationService),
		Referrals:     httpHandlers.NewReferralHandler(referralService),
		WS:            httpHandlers.NewWSHandler(ctx, hub, tokenManager, cfg.AllowedOrigins),
	}

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, handlers, tokenManager, middleware.NewLimiterStore(rdb))

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	logger.Log.WithField("port", cfg.HTTPPort).Info("HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
