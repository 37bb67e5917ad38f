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

// itemSortColumns lists the attributes an item listing may be ordered by.
var itemSortColumns = map[string]string{
	"id":                "i.id",
	"name":              "i.name",
	"category_id":       "i.category_id",
	"is_available":      "i.is_available",
	"location":          "i.location",
	"registration_date": "i.registration_date",
	"image_path":        "i.image_path",
	"notes":             "i.notes",
	"created_at":        "i.created_at",
	"updated_at":        "i.updated_at",
}

const itemWithCategory = `SELECT ` + itemColumns + `, c.name, c.created_at, c.updated_at
	FROM items i LEFT JOIN categories c ON c.id = i.category_id`

type PostgresItemRepository struct {
	db *sql.DB
}

func NewPostgresItemRepository(db *sql.DB) *PostgresItemRepository {
	return &PostgresItemRepository{db: db}
}

func (r *PostgresItemRepository) Create(ctx context.Context, item *models.Item) (err error) {
	ctx, done := observe(ctx, "item-repository", "CreateItem")
	defer done(&err)

	if item == nil {
		err = pkgerrors.ErrNilItem
		slog.Error("failed to create item", "method", "Create", "error", err)
		return err
	}
	if strings.TrimSpace(item.Name) == "" {
		err = pkgerrors.ErrNameRequired
		slog.Error("failed to create item", "method", "Create", "error", err)
		return err
	}

	query := `INSERT INTO items (name, category_id, is_available, location, image_path, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, registration_date, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query, item.Name, item.CategoryID, item.IsAvailable, item.Location, item.ImagePath, item.Notes).
		Scan(&item.ID, &item.RegistrationDate, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		switch pqCode(err) {
		case uniqueViolation:
			slog.Warn("item name already exists", "method", "Create", "name", item.Name)
			return pkgerrors.ErrDuplicateItemName
		case foreignKeyViolation:
			slog.Warn("category does not exist", "method", "Create", "category_id", item.CategoryID)
			return pkgerrors.ErrCategoryNotFound
		}
		slog.Error("failed to create item", "method", "Create", "name", item.Name, "error", err)
		return fmt.Errorf("failed to create item: %w", err)
	}

	slog.Info("item created", "method", "Create", "item_id", item.ID, "name", item.Name)
	return nil
}

func (r *PostgresItemRepository) GetByID(ctx context.Context, id int32) (_ *models.Item, err error) {
	ctx, done := observe(ctx, "item-repository", "GetItemByID", attribute.Int("item_id", int(id)))
	defer done(&err)

	var category categoryProjection
	item, err := scanItem(r.db.QueryRowContext(ctx, itemWithCategory+` WHERE i.id = $1`, id), category.dest()...)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrItemNotFound
		slog.Warn("item not found", "method", "GetByID", "item_id", id)
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get item by id", "method", "GetByID", "item_id", id, "error", err)
		return nil, fmt.Errorf("failed to get item by id: %w", err)
	}
	category.attach(item)
	return item, nil
}

func (r *PostgresItemRepository) List(ctx context.Context, filter models.ItemFilter) (_ []models.Item, err error) {
	ctx, done := observe(ctx, "item-repository", "ListItems")
	defer done(&err)

	var (
		conds []string
		args  []any
	)
	where := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.CategoryID != nil {
		where("i.category_id = $%d", *filter.CategoryID)
	}
	if filter.Name != "" {
		where("i.name ILIKE $%d", "%"+filter.Name+"%")
	}
	if filter.Location != nil {
		where("i.location = $%d", *filter.Location)
	}
	if filter.IsAvailable != nil {
		where("i.is_available = $%d", *filter.IsAvailable)
	}

	query := itemWithCategory
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + itemOrder(filter.SortBy, filter.SortOrder)
	args = append(args, filter.Limit, filter.Skip)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to list items", "method", "List", "error", err)
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items := make([]models.Item, 0)
	for rows.Next() {
		var category categoryProjection
		item, scanErr := scanItem(rows, category.dest()...)
		if scanErr != nil {
			err = scanErr
			slog.Error("failed to scan item", "method", "List", "error", err)
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		category.attach(item)
		items = append(items, *item)
	}
	if err = rows.Err(); err != nil {
		slog.Error("failed to iterate items", "method", "List", "error", err)
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

// itemOrder builds the ORDER BY clause. Unknown sort keys fall back to id.
func itemOrder(sortBy, sortOrder string) string {
	col, ok := itemSortColumns[sortBy]
	if !ok {
		return "i.id ASC"
	}
	dir := "ASC"
	if strings.EqualFold(sortOrder, "desc") {
		dir = "DESC"
	}
	if col == "i.id" {
		return col + " " + dir
	}
	return col + " " + dir + ", i.id ASC"
}

func (r *PostgresItemRepository) Delete(ctx context.Context, id int32) (_ bool, err error) {
	ctx, done := observe(ctx, "item-repository", "DeleteItem", attribute.Int("item_id", int(id)))
	defer done(&err)

	res, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		slog.Error("failed to delete item", "method", "Delete", "item_id", id, "error", err)
		return false, fmt.Errorf("failed to delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	slog.Info("item deleted", "method", "Delete", "item_id", id, "found", n > 0)
	return n > 0, nil
}
