package service

import (
	"context"
	stderrors "errors"
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

// LendingService moves items between borrowers through the transaction ledger.
// Every mutation runs as one ledger unit, so a ledger entry and the item's
// availability always commit together.
type LendingService interface {
	// CreateDirect records a borrow or a return that takes effect immediately.
	CreateDirect(ctx context.Context, who models.Identity, in models.TransactionInput) (*models.Transaction, error)
	// Request records a pending borrow request; availability is untouched.
	Request(ctx context.Context, who models.Identity, in models.TransactionInput) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, who models.Identity, id int32, target models.TransactionStatus) (*models.Transaction, error)
	Approve(ctx context.Context, who models.Identity, id int32) (*models.Transaction, error)
	Reject(ctx context.Context, who models.Identity, id int32) (*models.Transaction, error)
	Cancel(ctx context.Context, who models.Identity, id int32) (*models.Transaction, error)
	Return(ctx context.Context, who models.Identity, id int32) (*models.Transaction, error)
	Get(ctx context.Context, id int32) (*models.Transaction, error)
	List(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionDetails, error)
}

type lendingService struct {
	ledger          repository.Ledger
	transactionRepo repository.TransactionRepository
	redisClient     redis.RedisClient
	producer        kafka.KafkaProducer
	now             func() time.Time
}

func NewLendingService(
	ledger repository.Ledger,
	transactionRepo repository.TransactionRepository,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
) *lendingService {
	return &lendingService{
		ledger:          ledger,
		transactionRepo: transactionRepo,
		redisClient:     redisClient,
		producer:        producer,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

type transactionEvent struct {
	TransactionID int32                    `json:"transaction_id"`
	ItemID        int32                    `json:"item_id"`
	UserID        int32                    `json:"user_id"`
	Type          models.TransactionType   `json:"type"`
	From          string                   `json:"from,omitempty"`
	Status        models.TransactionStatus `json:"status"`
	ItemAvailable bool                     `json:"item_available"`
}

func (s *lendingService) CreateDirect(ctx context.Context, who models.Identity, in models.TransactionInput) (_ *models.Transaction, err error) {
	ctx, end := traced(ctx, "lending-service", "CreateDirect", attribute.Int("item_id", int(in.ItemID)))
	defer end(&err)

	if err = s.prepareInput(who, &in); err != nil {
		return nil, err
	}
	status, err := initialStatus(in)
	if err != nil {
		return nil, err
	}

	var created, closed *models.Transaction
	err = s.ledger.Within(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		item, err := tx.LockItem(ctx, in.ItemID)
		if err != nil {
			return err
		}
		if in.Type == models.TypeBorrow {
			created, err = s.borrow(ctx, tx, item, in, status)
			return err
		}
		created, closed, err = s.giveBack(ctx, tx, who, item, in)
		return err
	})
	if err != nil {
		slog.Warn("direct transaction rejected", "method", "CreateDirect", "item_id", in.ItemID, "user_id", in.UserID, "type", in.Type, "error", err)
		return nil, err
	}

	if closed != nil {
		s.afterCommit(ctx, closed, models.StatusApproved)
	}
	s.afterCreate(ctx, created)
	slog.Info("direct transaction recorded", "method", "CreateDirect", "transaction_id", created.ID, "item_id", created.ItemID, "type", created.Type)
	return created, nil
}

func (s *lendingService) Request(ctx context.Context, who models.Identity, in models.TransactionInput) (_ *models.Transaction, err error) {
	ctx, end := traced(ctx, "lending-service", "Request", attribute.Int("item_id", int(in.ItemID)))
	defer end(&err)

	if in.Type == "" {
		in.Type = models.TypeBorrow
	}
	if in.Type != models.TypeBorrow {
		err = fmt.Errorf("%w: only borrow can be requested", pkgerrors.ErrInvalidTransactionType)
		return nil, err
	}
	if in.Status != nil && *in.Status != models.StatusRequest {
		err = fmt.Errorf("%w: a request starts as %q", pkgerrors.ErrInvalidTransactionStatus, models.StatusRequest)
		return nil, err
	}
	if err = s.prepareInput(who, &in); err != nil {
		return nil, err
	}

	var created *models.Transaction
	err = s.ledger.Within(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		item, err := tx.LockItem(ctx, in.ItemID)
		if err != nil {
			return err
		}
		created, err = s.borrow(ctx, tx, item, in, models.StatusRequest)
		return err
	})
	if err != nil {
		slog.Warn("borrow request rejected", "method", "Request", "item_id", in.ItemID, "user_id", in.UserID, "error", err)
		return nil, err
	}

	s.afterCreate(ctx, created)
	slog.Info("borrow requested", "method", "Request", "transaction_id", created.ID, "item_id", created.ItemID, "user_id", created.UserID)
	return created, nil
}

// initialStatus is the status a direct entry is created with. A borrow is
// approved unless the caller asks for request; a return is always returned.
func initialStatus(in models.TransactionInput) (models.TransactionStatus, error) {
	if in.Type == models.TypeReturn {
		if in.Status != nil && *in.Status != models.StatusReturned {
			return "", fmt.Errorf("%w: a return is recorded as %q", pkgerrors.ErrInvalidTransactionStatus, models.StatusReturned)
		}
		return models.StatusReturned, nil
	}
	if in.Status == nil {
		return models.StatusApproved, nil
	}
	switch *in.Status {
	case models.StatusRequest, models.StatusApproved:
		return *in.Status, nil
	}
	return "", fmt.Errorf("%w: a borrow starts as request or approved, got %q", pkgerrors.ErrInvalidTransactionStatus, in.Status.String())
}

func (s *lendingService) prepareInput(who models.Identity, in *models.TransactionInput) error {
	if !in.Type.Valid() {
		return pkgerrors.ErrInvalidTransactionType
	}
	if in.UserID == 0 {
		in.UserID = who.UserID
	}
	if !who.CanActFor(in.UserID) {
		return pkgerrors.ErrPermissionDenied
	}
	return nil
}

// borrow inserts a borrow entry with the given status. The item must have no
// other open entry.
func (s *lendingService) borrow(ctx context.Context, tx repository.LedgerTx, item *models.Item, in models.TransactionInput, status models.TransactionStatus) (*models.Transaction, error) {
	open, err := tx.OpenTransactions(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if len(open) > 0 || !item.IsAvailable {
		return nil, pkgerrors.ErrItemReserved
	}

	entry := &models.Transaction{
		ItemID:        item.ID,
		UserID:        in.UserID,
		Type:          models.TypeBorrow,
		Status:        status,
		Reason:        in.Reason,
		ItemCondition: in.ItemCondition,
		Notes:         in.Notes,
	}
	if err := tx.InsertTransaction(ctx, entry); err != nil {
		return nil, err
	}
	if available := status.ItemAvailable(); available != item.IsAvailable {
		if err := tx.SetItemAvailability(ctx, item.ID, available); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// giveBack closes the approved borrow of the item and records the return
// entry that references it. It returns the new entry and the closed borrow.
func (s *lendingService) giveBack(ctx context.Context, tx repository.LedgerTx, who models.Identity, item *models.Item, in models.TransactionInput) (*models.Transaction, *models.Transaction, error) {
	var lent *models.Transaction
	if in.RelatedTransactionID != nil {
		related, err := tx.LockTransaction(ctx, *in.RelatedTransactionID)
		if stderrors.Is(err, pkgerrors.ErrTransactionNotFound) {
			return nil, nil, pkgerrors.ErrRelatedNotFound
		}
		if err != nil {
			return nil, nil, err
		}
		if related.ItemID != item.ID || related.Type != models.TypeBorrow || related.Status != models.StatusApproved {
			return nil, nil, fmt.Errorf("%w: transaction %d is not an active loan of item %d", pkgerrors.ErrStatusTransition, related.ID, item.ID)
		}
		lent = related
	} else {
		open, err := tx.OpenTransactions(ctx, item.ID)
		if err != nil {
			return nil, nil, err
		}
		for i := range open {
			if open[i].Type == models.TypeBorrow && open[i].Status == models.StatusApproved {
				lent = &open[i]
				break
			}
		}
	}

	if lent == nil && item.IsAvailable {
		return nil, nil, pkgerrors.ErrNothingToReturn
	}

	now := s.now()
	entry := &models.Transaction{
		ItemID:        item.ID,
		UserID:        in.UserID,
		Type:          models.TypeReturn,
		Status:        models.StatusReturned,
		Reason:        in.Reason,
		ItemCondition: in.ItemCondition,
		Notes:         in.Notes,
		ReturnedDate:  &now,
	}

	if lent != nil {
		if !who.CanActFor(lent.UserID) {
			return nil, nil, pkgerrors.ErrPermissionDenied
		}
		if err := tx.UpdateTransactionStatus(ctx, lent.ID, models.StatusReturned, &now); err != nil {
			return nil, nil, err
		}
		lent.Status = models.StatusReturned
		lent.ReturnedDate = &now
		entry.RelatedTransactionID = &lent.ID
	}

	if err := tx.InsertTransaction(ctx, entry); err != nil {
		return nil, nil, err
	}
	if err := tx.SetItemAvailability(ctx, item.ID, true); err != nil {
		return nil, nil, err
	}
	return entry, lent, nil
}

func (s *lendingService) UpdateStatus(ctx context.Context, who models.Identity, id int32, target models.TransactionStatus) (*models.Transaction, error) {
	return s.transition(ctx, "UpdateStatus", who, id, target, nil)
}

func (s *lendingService) Approve(ctx context.Context, who models.Identity, id int32) (*models.Transaction, error) {
	return s.transition(ctx, "Approve", who, id, models.StatusApproved, nil)
}

func (s *lendingService) Reject(ctx context.Context, who models.Identity, id int32) (*models.Transaction, error) {
	return s.transition(ctx, "Reject", who, id, models.StatusRejected, nil)
}

func (s *lendingService) Cancel(ctx context.Context, who models.Identity, id int32) (*models.Transaction, error) {
	return s.transition(ctx, "Cancel", who, id, models.StatusCancelled, pkgerrors.ErrNothingToCancel)
}

func (s *lendingService) Return(ctx context.Context, who models.Identity, id int32) (*models.Transaction, error) {
	return s.transition(ctx, "Return", who, id, models.StatusReturned, pkgerrors.ErrNothingToReturn)
}

// transition applies one edge of the status table to transaction id. When
// the edge is not allowed, refused is returned if set, ErrStatusTransition
// otherwise.
func (s *lendingService) transition(ctx context.Context, method string, who models.Identity, id int32, target models.TransactionStatus, refused error) (_ *models.Transaction, err error) {
	ctx, end := traced(ctx, "lending-service", method,
		attribute.Int("transaction_id", int(id)), attribute.String("target", target.String()))
	defer end(&err)

	if (target == models.StatusApproved || target == models.StatusRejected) && !who.IsAdmin {
		err = pkgerrors.ErrAdminRequired
		return nil, err
	}

	var updated *models.Transaction
	var from models.TransactionStatus
	err = s.ledger.Within(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		itemID, err := tx.TransactionItem(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.LockItem(ctx, itemID); err != nil {
			return err
		}
		cur, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		if !who.CanActFor(cur.UserID) {
			return pkgerrors.ErrPermissionDenied
		}
		if !cur.Status.CanTransitionTo(target) {
			if refused != nil {
				return refused
			}
			return fmt.Errorf("%w: %s -> %s", pkgerrors.ErrStatusTransition, cur.Status, target)
		}

		var returnedDate *time.Time
		if target == models.StatusReturned {
			now := s.now()
			returnedDate = &now
		}
		if err := tx.UpdateTransactionStatus(ctx, id, target, returnedDate); err != nil {
			return err
		}
		if err := tx.SetItemAvailability(ctx, itemID, target.ItemAvailable()); err != nil {
			return err
		}

		from = cur.Status
		cur.Status = target
		if returnedDate != nil {
			cur.ReturnedDate = returnedDate
		}
		updated = cur
		return nil
	})
	if err != nil {
		slog.Warn("status transition refused", "method", method, "transaction_id", id, "target", target.String(), "error", err)
		return nil, err
	}

	s.afterCommit(ctx, updated, from)
	slog.Info("transaction status changed", "method", method, "transaction_id", id, "from", from.String(), "to", target.String())
	return updated, nil
}

func (s *lendingService) afterCreate(ctx context.Context, tx *models.Transaction) {
	s.invalidateItem(ctx, tx.ItemID)
	observability.LendingTransitions.WithLabelValues("new", tx.Status.String()).Inc()
	publish(ctx, s.producer, kafka.TopicTransactions, int64(tx.ItemID), kafka.EventTransactionCreated, transactionEvent{
		TransactionID: tx.ID,
		ItemID:        tx.ItemID,
		UserID:        tx.UserID,
		Type:          tx.Type,
		Status:        tx.Status,
		ItemAvailable: tx.Type == models.TypeReturn || tx.Status.ItemAvailable(),
	})
}

func (s *lendingService) afterCommit(ctx context.Context, tx *models.Transaction, from models.TransactionStatus) {
	s.invalidateItem(ctx, tx.ItemID)
	observability.LendingTransitions.WithLabelValues(from.String(), tx.Status.String()).Inc()
	publish(ctx, s.producer, kafka.TopicTransactions, int64(tx.ItemID), kafka.EventTransactionStatusChanged, transactionEvent{
		TransactionID: tx.ID,
		ItemID:        tx.ItemID,
		UserID:        tx.UserID,
		Type:          tx.Type,
		From:          from.String(),
		Status:        tx.Status,
		ItemAvailable: tx.Status.ItemAvailable(),
	})
}

func (s *lendingService) invalidateItem(ctx context.Context, itemID int32) {
	dropCachedItems(ctx, s.redisClient, itemID)
}

func (s *lendingService) Get(ctx context.Context, id int32) (_ *models.Transaction, err error) {
	ctx, end := traced(ctx, "lending-service", "GetTransaction", attribute.Int("transaction_id", int(id)))
	defer end(&err)

	return s.transactionRepo.GetByID(ctx, id)
}

func (s *lendingService) List(ctx context.Context, filter models.TransactionFilter) (_ []models.TransactionDetails, err error) {
	ctx, end := traced(ctx, "lending-service", "ListTransactions")
	defer end(&err)

	filter.Skip, filter.Limit = models.NormalizePage(filter.Skip, filter.Limit)
	return s.transactionRepo.List(ctx, filter)
}
