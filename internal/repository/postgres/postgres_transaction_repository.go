package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/honeynil/EquipmentLendingService/internal/models"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int32) (_ *models.Transaction, err error) {
	ctx, done := observe(ctx, "transaction-repository", "GetTransactionByID", attribute.Int("transaction_id", int(id)))
	defer done(&err)

	query := `SELECT ` + transactionColumns + ` FROM item_transactions t WHERE t.id = $1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		slog.Warn("transaction not found", "method", "GetByID", "transaction_id", id)
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) List(ctx context.Context, filter models.TransactionFilter) (_ []models.TransactionDetails, err error) {
	ctx, done := observe(ctx, "transaction-repository", "ListTransactions")
	defer done(&err)

	var (
		conds []string
		args  []any
	)
	where := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID != nil {
		where("t.user_id = $%d", *filter.UserID)
	}
	if filter.ItemID != nil {
		where("t.item_id = $%d", *filter.ItemID)
	}
	if filter.Status != nil {
		if *filter.Status == models.StatusCancelled {
			conds = append(conds, "t.status IS NULL")
		} else {
			where("t.status = $%d", string(*filter.Status))
		}
	}
	if filter.Type != nil {
		where("t.type = $%d", string(*filter.Type))
	}

	query := `SELECT ` + transactionColumns + `, ` + itemColumns + `, c.name, c.created_at, c.updated_at,
		u.id, u.name, u.email, u.grade
		FROM item_transactions t
		JOIN items i ON i.id = t.item_id
		LEFT JOIN categories c ON c.id = i.category_id
		JOIN users u ON u.id = t.user_id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Skip)
	query += fmt.Sprintf(" ORDER BY t.transaction_date DESC, t.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to list transactions", "method", "List", "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	result := make([]models.TransactionDetails, 0)
	for rows.Next() {
		var (
			category categoryProjection
			user     models.UserSummary
			itemDest itemScanner
		)
		extra := append(itemDest.dest(), category.dest()...)
		extra = append(extra, &user.ID, &user.Name, &user.Email, &user.Grade)
		tx, scanErr := scanTransaction(rows, extra...)
		if scanErr != nil {
			err = scanErr
			slog.Error("failed to scan transaction", "method", "List", "error", err)
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		item := itemDest.item()
		category.attach(item)
		result = append(result, models.TransactionDetails{Transaction: *tx, Item: item, User: &user})
	}
	if err = rows.Err(); err != nil {
		slog.Error("failed to iterate transactions", "method", "List", "error", err)
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return result, nil
}
