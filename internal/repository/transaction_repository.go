package repository

import (
	"context"
	"time"

	"github.com/honeynil/EquipmentLendingService/internal/models"
)

// TransactionRepository is the read side of the ledger.
type TransactionRepository interface {
	GetByID(ctx context.Context, id int32) (*models.Transaction, error)
	List(ctx context.Context, filter models.TransactionFilter) ([]models.TransactionDetails, error)
}

// Ledger runs a unit of work inside one database transaction. The handle is
// passed to fn explicitly; fn must not retain it after returning. Returning an
// error from fn rolls the whole unit back.
type Ledger interface {
	Within(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

// LedgerTx is the set of writes allowed inside Ledger.Within. Lock methods
// take a row lock that is held until the unit commits or rolls back. Callers
// lock the item row before any transaction row of that item.
type LedgerTx interface {
	TransactionItem(ctx context.Context, id int32) (int32, error)
	LockTransaction(ctx context.Context, id int32) (*models.Transaction, error)
	LockItem(ctx context.Context, id int32) (*models.Item, error)
	OpenTransactions(ctx context.Context, itemID int32) ([]models.Transaction, error)
	InsertTransaction(ctx context.Context, tx *models.Transaction) error
	UpdateTransactionStatus(ctx context.Context, id int32, status models.TransactionStatus, returnedDate *time.Time) error
	SetItemAvailability(ctx context.Context, itemID int32, available bool) error
	UpdateItem(ctx context.Context, item *models.Item) error
}
