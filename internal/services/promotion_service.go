package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/kafka"
	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/observability"
	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/redis"
	"github.com/honeynil/EquipmentLendingService/internal/models"
	"github.com/honeynil/EquipmentLendingService/internal/repository"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// A claimed year outlives the annual trigger period.
const promotionClaimTTL = 400 * 24 * time.Hour

type PromotionService interface {
	// PromoteGrades runs the annual promotion of the given year: OB_OG users are
	// deactivated, everyone else advances one grade. Each year runs at most once
	// across all replicas.
	PromoteGrades(ctx context.Context, year int) (*models.PromotionResult, error)
}

type promotionService struct {
	userRepo    repository.UserRepository
	redisClient redis.RedisClient
	producer    kafka.KafkaProducer
	now         func() time.Time
}

func NewPromotionService(userRepo repository.UserRepository, redisClient redis.RedisClient, producer kafka.KafkaProducer) *promotionService {
	return &promotionService{
		userRepo:    userRepo,
		redisClient: redisClient,
		producer:    producer,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *promotionService) PromoteGrades(ctx context.Context, year int) (_ *models.PromotionResult, err error) {
	ctx, end := traced(ctx, "promotion-service", "PromoteGrades", attribute.Int("year", year))
	defer end(&err)

	key := redis.PromotionKey(year)
	claimed, err := s.redisClient.SetNX(ctx, key, s.now().Format(time.RFC3339), promotionClaimTTL)
	if err != nil {
		observability.GradePromotions.WithLabelValues("error").Inc()
		slog.Error("failed to claim grade promotion", "year", year, "error", err)
		return nil, fmt.Errorf("failed to claim grade promotion: %w", err)
	}
	if !claimed {
		observability.GradePromotions.WithLabelValues("skipped").Inc()
		slog.Warn("grade promotion already claimed", "year", year)
		err = pkgerrors.ErrPromotionClaimed
		return nil, err
	}

	promoted, deactivated, err := s.userRepo.PromoteGrades(ctx)
	if err != nil {
		// Освобождаем год, чтобы следующий запуск мог повторить попытку
		if delErr := s.redisClient.Del(context.WithoutCancel(ctx), key); delErr != nil {
			slog.Warn("failed to release grade promotion claim", "year", year, "error", delErr)
		}
		observability.GradePromotions.WithLabelValues("error").Inc()
		slog.Error("grade promotion failed", "year", year, "error", err)
		return nil, err
	}

	result := &models.PromotionResult{Promoted: promoted, Deactivated: deactivated, RanAt: s.now()}
	observability.GradePromotions.WithLabelValues("success").Inc()
	publish(ctx, s.producer, kafka.TopicUsers, 0, kafka.EventGradesPromoted, result)

	slog.Info("grades promoted", "year", year, "promoted", promoted, "deactivated", deactivated)
	return result, nil
}
