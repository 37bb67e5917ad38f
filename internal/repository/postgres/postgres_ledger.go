package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/honeynil/EquipmentLendingService/internal/models"
	repo "github.com/honeynil/EquipmentLendingService/internal/repository"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// PostgresLedger runs ledger units of work in a single database transaction.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Within(ctx context.Context, fn func(ctx context.Context, tx repo.LedgerTx) error) (err error) {
	ctx, done := observe(ctx, "ledger", "LedgerUnit")
	defer done(&err)

	err = RunInTx(ctx, l.db, nil, func(ctx context.Context, q DBTX) error {
		return fn(ctx, &ledgerTx{q: q})
	})
	return err
}

type ledgerTx struct {
	q DBTX
}

// TransactionItem reads the item of a transaction without locking it.
func (t *ledgerTx) TransactionItem(ctx context.Context, id int32) (_ int32, err error) {
	ctx, done := observe(ctx, "ledger", "TransactionItem", attribute.Int("transaction_id", int(id)))
	defer done(&err)

	var itemID int32
	err = t.q.QueryRowContext(ctx, `SELECT item_id FROM item_transactions WHERE id = $1`, id).Scan(&itemID)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return 0, err
	}
	if err != nil {
		slog.Error("failed to read transaction item", "method", "TransactionItem", "transaction_id", id, "error", err)
		return 0, fmt.Errorf("failed to read transaction item: %w", err)
	}
	return itemID, nil
}

func (t *ledgerTx) LockTransaction(ctx context.Context, id int32) (_ *models.Transaction, err error) {
	ctx, done := observe(ctx, "ledger", "LockTransaction", attribute.Int("transaction_id", int(id)))
	defer done(&err)

	query := `SELECT ` + transactionColumns + ` FROM item_transactions t WHERE t.id = $1 FOR UPDATE`
	tx, err := scanTransaction(t.q.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to lock transaction", "method", "LockTransaction", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to lock transaction: %w", err)
	}
	return tx, nil
}

func (t *ledgerTx) LockItem(ctx context.Context, id int32) (_ *models.Item, err error) {
	ctx, done := observe(ctx, "ledger", "LockItem", attribute.Int("item_id", int(id)))
	defer done(&err)

	query := `SELECT ` + itemColumns + ` FROM items i WHERE i.id = $1 FOR UPDATE`
	item, err := scanItem(t.q.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrItemNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to lock item", "method", "LockItem", "item_id", id, "error", err)
		return nil, fmt.Errorf("failed to lock item: %w", err)
	}
	return item, nil
}

func (t *ledgerTx) OpenTransactions(ctx context.Context, itemID int32) (_ []models.Transaction, err error) {
	ctx, done := observe(ctx, "ledger", "OpenTransactions", attribute.Int("item_id", int(itemID)))
	defer done(&err)

	query := `SELECT ` + transactionColumns + ` FROM item_transactions t
		WHERE t.item_id = $1 AND t.status IN ('request', 'approved')
		ORDER BY t.id FOR UPDATE`
	rows, err := t.q.QueryContext(ctx, query, itemID)
	if err != nil {
		slog.Error("failed to query open transactions", "method", "OpenTransactions", "item_id", itemID, "error", err)
		return nil, fmt.Errorf("failed to query open transactions: %w", err)
	}
	defer rows.Close()

	var open []models.Transaction
	for rows.Next() {
		tx, scanErr := scanTransaction(rows)
		if scanErr != nil {
			err = scanErr
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		open = append(open, *tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate open transactions: %w", err)
	}
	return open, nil
}

func (t *ledgerTx) InsertTransaction(ctx context.Context, tx *models.Transaction) (err error) {
	ctx, done := observe(ctx, "ledger", "InsertTransaction")
	defer done(&err)

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		return err
	}
	if !tx.Type.Valid() {
		err = pkgerrors.ErrInvalidTransactionType
		slog.Error("invalid transaction type", "method", "InsertTransaction", "type", tx.Type, "error", err)
		return err
	}

	query := `INSERT INTO item_transactions
		(item_id, user_id, type, status, related_transaction_id, reason, item_condition, notes, returned_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, transaction_date, created_at`
	err = t.q.QueryRowContext(ctx, query,
		tx.ItemID, tx.UserID, string(tx.Type), tx.Status, tx.RelatedTransactionID,
		tx.Reason, tx.ItemCondition, tx.Notes, tx.ReturnedDate,
	).Scan(&tx.ID, &tx.TransactionDate, &tx.CreatedAt)
	if err != nil {
		switch pqCode(err) {
		case uniqueViolation:
			slog.Warn("item already has an open transaction", "method", "InsertTransaction", "item_id", tx.ItemID)
			return pkgerrors.ErrItemReserved
		case foreignKeyViolation:
			constraint := pqConstraint(err)
			switch {
			case strings.Contains(constraint, "user_id"):
				return pkgerrors.ErrUserNotFound
			case strings.Contains(constraint, "related"):
				return pkgerrors.ErrRelatedNotFound
			default:
				return pkgerrors.ErrItemNotFound
			}
		}
		slog.Error("failed to insert transaction", "method", "InsertTransaction", "item_id", tx.ItemID, "user_id", tx.UserID, "error", err)
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	slog.Info("transaction created", "method", "InsertTransaction", "transaction_id", tx.ID, "item_id", tx.ItemID, "user_id", tx.UserID, "type", tx.Type, "status", tx.Status.String())
	return nil
}

func (t *ledgerTx) UpdateTransactionStatus(ctx context.Context, id int32, status models.TransactionStatus, returnedDate *time.Time) (err error) {
	ctx, done := observe(ctx, "ledger", "UpdateTransactionStatus", attribute.Int("transaction_id", int(id)), attribute.String("status", status.String()))
	defer done(&err)

	query := `UPDATE item_transactions SET status = $2, returned_date = COALESCE($3, returned_date) WHERE id = $1`
	res, err := t.q.ExecContext(ctx, query, id, status, returnedDate)
	if pqCode(err) == uniqueViolation {
		return pkgerrors.ErrItemReserved
	}
	if err != nil {
		slog.Error("failed to update transaction status", "method", "UpdateTransactionStatus", "transaction_id", id, "error", err)
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		err = pkgerrors.ErrTransactionNotFound
		return err
	}

	slog.Info("transaction status updated", "method", "UpdateTransactionStatus", "transaction_id", id, "status", status.String())
	return nil
}

func (t *ledgerTx) SetItemAvailability(ctx context.Context, itemID int32, available bool) (err error) {
	ctx, done := observe(ctx, "ledger", "SetItemAvailability", attribute.Int("item_id", int(itemID)), attribute.Bool("available", available))
	defer done(&err)

	res, err := t.q.ExecContext(ctx, `UPDATE items SET is_available = $2, updated_at = NOW() WHERE id = $1`, itemID, available)
	if err != nil {
		slog.Error("failed to set item availability", "method", "SetItemAvailability", "item_id", itemID, "error", err)
		return fmt.Errorf("failed to set item availability: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		err = pkgerrors.ErrItemNotFound
		return err
	}
	return nil
}

func (t *ledgerTx) UpdateItem(ctx context.Context, item *models.Item) (err error) {
	ctx, done := observe(ctx, "ledger", "UpdateItem")
	defer done(&err)

	if item == nil {
		err = pkgerrors.ErrNilItem
		return err
	}

	query := `UPDATE items
		SET name = $2, category_id = $3, is_available = $4, location = $5, image_path = $6, notes = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	err = t.q.QueryRowContext(ctx, query,
		item.ID, item.Name, item.CategoryID, item.IsAvailable, item.Location, item.ImagePath, item.Notes,
	).Scan(&item.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrItemNotFound
		return err
	}
	if err != nil {
		switch pqCode(err) {
		case uniqueViolation:
			return pkgerrors.ErrDuplicateItemName
		case foreignKeyViolation:
			return pkgerrors.ErrCategoryNotFound
		}
		slog.Error("failed to update item", "method", "UpdateItem", "item_id", item.ID, "error", err)
		return fmt.Errorf("failed to update item: %w", err)
	}

	slog.Info("item updated", "method", "UpdateItem", "item_id", item.ID)
	return nil
}
