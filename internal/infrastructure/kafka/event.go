package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TopicTransactions  = "transactions"
	TopicUsers         = "users"
	TopicNotifications = "notifications"
)

const (
	EventTransactionCreated       = "transaction_created"
	EventTransactionStatusChanged = "transaction_status_changed"
	EventGradesPromoted           = "grades_promoted"
	EventPasswordResetRequested   = "password_reset_requested"
)

// Event is the envelope of every message the service publishes.
type Event struct {
	ID         string          `json:"event_id"`
	Type       string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// PasswordResetRequested is the payload of EventPasswordResetRequested.
type PasswordResetRequested struct {
	UserID    int32     `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewEvent wraps payload into an envelope and encodes it.
func NewEvent(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return json.Marshal(Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	})
}
