package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	readBackoffMin = 500 * time.Millisecond
	readBackoffMax = 30 * time.Second
)

// Mailer delivers a plain-text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Config() kafka.ReaderConfig
	Close() error
}

// Consumer delivers notification events as mail.
type Consumer struct {
	reader      messageReader
	mailer      Mailer
	frontendURL string
	backoffMin  time.Duration
	backoffMax  time.Duration
	now         func() time.Time
}

func NewConsumer(brokers []string, topic, groupID string, mailer Mailer, frontendURL string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		mailer:      mailer,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		backoffMin:  readBackoffMin,
		backoffMax:  readBackoffMax,
		now:         time.Now,
	}
}

// Consume blocks until ctx is cancelled. Read errors are retried with an
// exponential backoff that resets after the next successful read.
func (c *Consumer) Consume(ctx context.Context) {
	delay := c.backoffMin
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Kafka consumer stopped", "topic", c.reader.Config().Topic)
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "retry_in", delay, "error", err)
			select {
			case <-ctx.Done():
				slog.Info("Kafka consumer stopped", "topic", c.reader.Config().Topic)
				return
			case <-time.After(delay):
			}
			if delay *= 2; delay > c.backoffMax {
				delay = c.backoffMax
			}
			continue
		}
		delay = c.backoffMin

		slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key))
		if err := c.Handle(ctx, msg.Value); err != nil {
			// TODO: Send to dead-letter queue
			slog.Error("failed to handle notification", "topic", msg.Topic, "key", string(msg.Key), "error", err)
		}
	}
}

// Handle processes one encoded Event. Unknown event types are skipped.
func (c *Consumer) Handle(ctx context.Context, value []byte) error {
	var event Event
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	switch event.Type {
	case EventPasswordResetRequested:
		var payload PasswordResetRequested
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal %s payload: %w", event.Type, err)
		}
		if payload.Email == "" || payload.Token == "" {
			return fmt.Errorf("%s event %s is missing email or token", event.Type, event.ID)
		}
		link := c.frontendURL + "/reset-password?token=" + url.QueryEscape(payload.Token)
		body := fmt.Sprintf("Hello %s,\n\nA password reset was requested for your account.\n"+
			"Open the link below%s to choose a new password:\n\n%s\n\n"+
			"If you did not request this, you can ignore this message.\n", payload.Name, c.validity(payload.ExpiresAt), link)
		if err := c.mailer.Send(ctx, payload.Email, "Password reset", body); err != nil {
			return fmt.Errorf("failed to send reset mail: %w", err)
		}
		slog.Info("password reset mail sent", "event_id", event.ID, "user_id", payload.UserID)
	default:
		slog.Warn("unknown notification event", "event_type", event.Type, "event_id", event.ID)
	}
	return nil
}

// validity phrases how long a reset link stays usable.
func (c *Consumer) validity(expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return ""
	}
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	left := expiresAt.Sub(now()).Round(time.Minute)
	if left < time.Minute {
		left = time.Minute
	}
	return fmt.Sprintf(" within %d minutes (until %s)", int(left.Minutes()), expiresAt.UTC().Format("2006-01-02 15:04 MST"))
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
