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

type PostgresCategoryRepository struct {
	db *sql.DB
}

func NewPostgresCategoryRepository(db *sql.DB) *PostgresCategoryRepository {
	return &PostgresCategoryRepository{db: db}
}

func (r *PostgresCategoryRepository) Create(ctx context.Context, category *models.Category) (err error) {
	ctx, done := observe(ctx, "category-repository", "CreateCategory")
	defer done(&err)

	if category == nil || strings.TrimSpace(category.Name) == "" {
		err = pkgerrors.ErrNameRequired
		slog.Error("failed to create category", "method", "Create", "error", err)
		return err
	}

	query := `INSERT INTO categories (name) VALUES ($1) RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query, category.Name).Scan(&category.ID, &category.CreatedAt, &category.UpdatedAt)
	if pqCode(err) == uniqueViolation {
		slog.Warn("category name already exists", "method", "Create", "name", category.Name)
		return pkgerrors.ErrDuplicateCategoryName
	}
	if err != nil {
		slog.Error("failed to create category", "method", "Create", "name", category.Name, "error", err)
		return fmt.Errorf("failed to create category: %w", err)
	}

	slog.Info("category created", "method", "Create", "category_id", category.ID, "name", category.Name)
	return nil
}

func (r *PostgresCategoryRepository) GetByID(ctx context.Context, id int32) (_ *models.Category, err error) {
	ctx, done := observe(ctx, "category-repository", "GetCategoryByID", attribute.Int("category_id", int(id)))
	defer done(&err)

	var c models.Category
	query := `SELECT id, name, created_at, updated_at FROM categories WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrCategoryNotFound
		slog.Warn("category not found", "method", "GetByID", "category_id", id)
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get category", "method", "GetByID", "category_id", id, "error", err)
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

func (r *PostgresCategoryRepository) List(ctx context.Context, skip, limit int) (_ []models.Category, err error) {
	ctx, done := observe(ctx, "category-repository", "ListCategories")
	defer done(&err)

	query := `SELECT id, name, created_at, updated_at FROM categories ORDER BY id LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, skip)
	if err != nil {
		slog.Error("failed to list categories", "method", "List", "error", err)
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	categories := make([]models.Category, 0)
	for rows.Next() {
		var c models.Category
		if err = rows.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}
	return categories, nil
}

func (r *PostgresCategoryRepository) Update(ctx context.Context, category *models.Category) (err error) {
	ctx, done := observe(ctx, "category-repository", "UpdateCategory")
	defer done(&err)

	if category == nil || strings.TrimSpace(category.Name) == "" {
		err = pkgerrors.ErrNameRequired
		return err
	}

	query := `UPDATE categories SET name = $2, updated_at = NOW() WHERE id = $1 RETURNING created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query, category.ID, category.Name).Scan(&category.CreatedAt, &category.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrCategoryNotFound
		return err
	}
	if pqCode(err) == uniqueViolation {
		slog.Warn("category name already exists", "method", "Update", "name", category.Name)
		return pkgerrors.ErrDuplicateCategoryName
	}
	if err != nil {
		slog.Error("failed to update category", "method", "Update", "category_id", category.ID, "error", err)
		return fmt.Errorf("failed to update category: %w", err)
	}

	slog.Info("category updated", "method", "Update", "category_id", category.ID)
	return nil
}

func (r *PostgresCategoryRepository) Delete(ctx context.Context, id int32) (_ bool, err error) {
	ctx, done := observe(ctx, "category-repository", "DeleteCategory", attribute.Int("category_id", int(id)))
	defer done(&err)

	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		slog.Error("failed to delete category", "method", "Delete", "category_id", id, "error", err)
		return false, fmt.Errorf("failed to delete category: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	slog.Info("category deleted", "method", "Delete", "category_id", id, "found", n > 0)
	return n > 0, nil
}
