package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/honeynil/EquipmentLendingService/internal/api"
	"github.com/honeynil/EquipmentLendingService/internal/config"
	"github.com/honeynil/EquipmentLendingService/internal/handler"
	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/auth"
	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/kafka"
	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/mail"
	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/redis"
	"github.com/honeynil/EquipmentLendingService/internal/observability"
	core "github.com/honeynil/EquipmentLendingService/internal/repository/postgres"
	"github.com/honeynil/EquipmentLendingService/internal/scheduler"
	service "github.com/honeynil/EquipmentLendingService/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	// Загружаем конфиг (.env, YAML, окружение)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализируем логи, метрики, трейсы
	shutdownTracing, metricsHandler, err := observability.Setup(ctx, cfg.ServiceName, cfg.LogLevel, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to init observability: %v", err)
	}
	defer shutdownTracing(context.Background())

	// Подключаемся к Postgres
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Postgres is unreachable: %v", err)
	}

	// Инициализируем зависимости
	userRepo := core.NewPostgresUserRepository(db)
	itemRepo := core.NewPostgresItemRepository(db)
	categoryRepo := core.NewPostgresCategoryRepository(db)
	transactionRepo := core.NewPostgresTransactionRepository(db)
	searchLogRepo := core.NewPostgresSearchLogRepository(db)
	ledger := core.NewPostgresLedger(db)

	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()
	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.ResetTokenTTL)

	// Инициализируем сервисы
	userSvc := service.NewUserService(userRepo, redisClient, producer, tokens)
	itemSvc := service.NewItemService(itemRepo, ledger, redisClient)
	categorySvc := service.NewCategoryService(categoryRepo, itemRepo, redisClient)
	lendingSvc := service.NewLendingService(ledger, transactionRepo, redisClient, producer)
	searchLogSvc := service.NewSearchLogService(searchLogRepo)
	promotionSvc := service.NewPromotionService(userRepo, redisClient, producer)

	// Kafka-консьюмер уведомлений
	mailer := mail.NewSMTPMailer(mail.Config{
		Host:     cfg.SMTP.Host,
		Port:     strconv.Itoa(cfg.SMTP.Port),
		User:     cfg.SMTP.User,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	notificationConsumer := kafka.NewConsumer(cfg.KafkaBrokers, kafka.TopicNotifications, cfg.ServiceName+"-notifications", mailer, cfg.FrontendURL)
	go notificationConsumer.Consume(ctx)
	defer notificationConsumer.Close()

	// Ежегодный перевод на следующий курс
	promotions, err := scheduler.New(cfg.PromotionSchedule, cfg.PromotionTimezone, promotionSvc)
	if err != nil {
		log.Fatalf("Failed to init scheduler: %v", err)
	}
	promotions.Start()

	// Настраиваем роутер
	h := handler.NewHandler(userSvc, itemSvc, categorySvc, lendingSvc, searchLogSvc)
	router := api.SetupRouter(h, redisClient, tokens, userRepo, api.RouterConfig{
		FrontendURL: cfg.FrontendURL,
		Metrics:     metricsHandler,
	})

	// Запускаем сервер
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	promotions.Stop(shutdownCtx)
	slog.Info("server stopped")
}
