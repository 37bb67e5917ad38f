package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/honeynil/EquipmentLendingService/internal/models"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
)

type PostgresSearchLogRepository struct {
	db *sql.DB
}

func NewPostgresSearchLogRepository(db *sql.DB) *PostgresSearchLogRepository {
	return &PostgresSearchLogRepository{db: db}
}

func (r *PostgresSearchLogRepository) Create(ctx context.Context, entry *models.SearchLog) (err error) {
	ctx, done := observe(ctx, "search-log-repository", "CreateSearchLog")
	defer done(&err)

	if entry == nil || strings.TrimSpace(entry.SearchKeyword) == "" {
		err = fmt.Errorf("%w: search keyword is required", pkgerrors.ErrInvalidInput)
		return err
	}

	query := `INSERT INTO search_logs (user_id, search_keyword) VALUES ($1, $2) RETURNING id, searched_at`
	err = r.db.QueryRowContext(ctx, query, entry.UserID, entry.SearchKeyword).Scan(&entry.ID, &entry.SearchedAt)
	if pqCode(err) == foreignKeyViolation {
		return pkgerrors.ErrUserNotFound
	}
	if err != nil {
		slog.Error("failed to record search", "method", "Create", "error", err)
		return fmt.Errorf("failed to record search: %w", err)
	}
	return nil
}
