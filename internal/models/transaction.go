package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
)

type Transaction struct {
	ID                   int32             `json:"id"`
	ItemID               int32             `json:"item_id"`
	UserID               int32             `json:"user_id"`
	Type                 TransactionType   `json:"type"`
	Status               TransactionStatus `json:"status"`
	RelatedTransactionID *int32            `json:"related_transaction_id"`
	Reason               *string           `json:"reason"`
	ItemCondition        *string           `json:"item_condition"`
	Notes                *string           `json:"notes"`
	TransactionDate      time.Time         `json:"transaction_date"`
	ReturnedDate         *time.Time        `json:"returned_date"`
	CreatedAt            time.Time         `json:"created_at"`
}

// TransactionDetails is a ledger row with the projections shown in listings.
type TransactionDetails struct {
	Transaction
	Item *Item        `json:"item"`
	User *UserSummary `json:"user"`
}

// TransactionInput is what callers provide when a ledger entry is created.
type TransactionInput struct {
	ItemID int32           `json:"item_id"`
	UserID int32           `json:"user_id"`
	Type   TransactionType `json:"type"`
	// Status overrides the initial status a borrow gets; only request and
	// approved can start a borrow.
	Status               *TransactionStatus `json:"status,omitempty"`
	RelatedTransactionID *int32             `json:"related_transaction_id,omitempty"`
	Reason               *string            `json:"reason,omitempty"`
	ItemCondition        *string            `json:"item_condition,omitempty"`
	Notes                *string            `json:"notes,omitempty"`
}

type TransactionFilter struct {
	UserID *int32
	ItemID *int32
	Status *TransactionStatus
	Type   *TransactionType
	Skip   int
	Limit  int
}

type TransactionType string

const (
	TypeBorrow TransactionType = "borrow"
	TypeReturn TransactionType = "return"
)

func (t TransactionType) Valid() bool {
	return t == TypeBorrow || t == TypeReturn
}

// TransactionStatus is the workflow state of a ledger entry. The zero value is
// the cancelled state, stored as NULL and rendered as JSON null.
type TransactionStatus string

const (
	StatusCancelled TransactionStatus = ""
	StatusRequest   TransactionStatus = "request"
	StatusApproved  TransactionStatus = "approved"
	StatusRejected  TransactionStatus = "rejected"
	StatusReturned  TransactionStatus = "returned"
)

var transitions = map[TransactionStatus][]TransactionStatus{
	StatusRequest:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusReturned},
}

// ParseStatus accepts the boundary spelling of a status. "cancelled" and
// "null" both name the cancelled state.
func ParseStatus(s string) (TransactionStatus, error) {
	switch TransactionStatus(s) {
	case StatusRequest, StatusApproved, StatusRejected, StatusReturned:
		return TransactionStatus(s), nil
	}
	if s == "cancelled" || s == "null" {
		return StatusCancelled, nil
	}
	return "", fmt.Errorf("%w: %q", pkgerrors.ErrInvalidTransactionStatus, s)
}

func (s TransactionStatus) String() string {
	if s == StatusCancelled {
		return "cancelled"
	}
	return string(s)
}

func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsOpen reports whether the entry still holds the item: a pending request or
// an approved loan.
func (s TransactionStatus) IsOpen() bool {
	return s == StatusRequest || s == StatusApproved
}

func (s TransactionStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// ItemAvailable is the availability an item has once its open entry reaches s.
func (s TransactionStatus) ItemAvailable() bool {
	return s != StatusApproved
}

func (s TransactionStatus) Value() (driver.Value, error) {
	if s == StatusCancelled {
		return nil, nil
	}
	return string(s), nil
}

func (s *TransactionStatus) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = StatusCancelled
	case string:
		*s = TransactionStatus(v)
	case []byte:
		*s = TransactionStatus(v)
	default:
		return fmt.Errorf("cannot scan %T into TransactionStatus", src)
	}
	return nil
}

func (s TransactionStatus) MarshalJSON() ([]byte, error) {
	if s == StatusCancelled {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *TransactionStatus) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = StatusCancelled
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
