package service

import (
	"context"
	"log/slog"

	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/kafka"
	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/redis"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// traced starts a service span. The returned func ends it and records the
// error pointed to, if any.
func traced(ctx context.Context, tracerName, name string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}

// publish sends a domain event. Delivery is best effort: failures are logged
// and never undo the committed change.
func publish(ctx context.Context, producer kafka.KafkaProducer, topic string, key int64, eventType string, payload any) {
	if producer == nil {
		return
	}
	value, err := kafka.NewEvent(eventType, payload)
	if err != nil {
		slog.Error("failed to encode event", "event_type", eventType, "error", err)
		return
	}
	if err := producer.Send(ctx, topic, key, value); err != nil {
		slog.Error("failed to publish event", "topic", topic, "event_type", eventType, "key", key, "error", err)
	}
}

// dropCachedItems removes items from the read cache. A nil client is a no-op.
func dropCachedItems(ctx context.Context, redisClient redis.RedisClient, ids ...int32) {
	if redisClient == nil {
		return
	}
	for _, id := range ids {
		if err := redisClient.Del(ctx, redis.ItemKey(id)); err != nil {
			slog.Warn("failed to invalidate item cache", "item_id", id, "error", err)
		}
	}
}
