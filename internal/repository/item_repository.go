package repository

import (
	"context"

	"github.com/honeynil/EquipmentLendingService/internal/models"
)

type ItemRepository interface {
	Create(ctx context.Context, item *models.Item) error
	GetByID(ctx context.Context, id int32) (*models.Item, error)
	List(ctx context.Context, filter models.ItemFilter) ([]models.Item, error)
	Delete(ctx context.Context, id int32) (bool, error)
}

type CategoryRepository interface {
	Create(ctx context.Context, category *models.Category) error
	GetByID(ctx context.Context, id int32) (*models.Category, error)
	List(ctx context.Context, skip, limit int) ([]models.Category, error)
	Update(ctx context.Context, category *models.Category) error
	Delete(ctx context.Context, id int32) (bool, error)
}

type SearchLogRepository interface {
	Create(ctx context.Context, entry *models.SearchLog) error
}
