package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/redis"
	"github.com/honeynil/EquipmentLendingService/internal/models"
	"github.com/honeynil/EquipmentLendingService/internal/repository"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type CategoryService interface {
	Create(ctx context.Context, name string) (*models.Category, error)
	Get(ctx context.Context, id int32) (*models.Category, error)
	List(ctx context.Context, skip, limit int) ([]models.Category, error)
	Update(ctx context.Context, id int32, name string) (*models.Category, error)
	Delete(ctx context.Context, id int32) (bool, error)
}

// Cached items embed their category, so renaming or deleting a category
// drops the cached items that reference it.
type categoryService struct {
	categoryRepo repository.CategoryRepository
	itemRepo     repository.ItemRepository
	redisClient  redis.RedisClient
}

func NewCategoryService(categoryRepo repository.CategoryRepository, itemRepo repository.ItemRepository, redisClient redis.RedisClient) *categoryService {
	return &categoryService{categoryRepo: categoryRepo, itemRepo: itemRepo, redisClient: redisClient}
}

func (s *categoryService) Create(ctx context.Context, name string) (_ *models.Category, err error) {
	ctx, end := traced(ctx, "category-service", "CreateCategory")
	defer end(&err)

	name = strings.TrimSpace(name)
	if name == "" {
		err = pkgerrors.ErrNameRequired
		return nil, err
	}

	category := &models.Category{Name: name}
	if err = s.categoryRepo.Create(ctx, category); err != nil {
		return nil, err
	}
	slog.Info("category created", "method", "CreateCategory", "category_id", category.ID, "name", name)
	return category, nil
}

func (s *categoryService) Get(ctx context.Context, id int32) (_ *models.Category, err error) {
	ctx, end := traced(ctx, "category-service", "GetCategory", attribute.Int("category_id", int(id)))
	defer end(&err)

	return s.categoryRepo.GetByID(ctx, id)
}

func (s *categoryService) List(ctx context.Context, skip, limit int) (_ []models.Category, err error) {
	ctx, end := traced(ctx, "category-service", "ListCategories")
	defer end(&err)

	skip, limit = models.NormalizePage(skip, limit)
	return s.categoryRepo.List(ctx, skip, limit)
}

func (s *categoryService) Update(ctx context.Context, id int32, name string) (_ *models.Category, err error) {
	ctx, end := traced(ctx, "category-service", "UpdateCategory", attribute.Int("category_id", int(id)))
	defer end(&err)

	name = strings.TrimSpace(name)
	if name == "" {
		err = pkgerrors.ErrNameRequired
		return nil, err
	}

	category := &models.Category{ID: id, Name: name}
	if err = s.categoryRepo.Update(ctx, category); err != nil {
		return nil, err
	}
	dropCachedItems(ctx, s.redisClient, s.itemsOf(ctx, id)...)
	slog.Info("category renamed", "method", "UpdateCategory", "category_id", id, "name", name)
	return s.categoryRepo.GetByID(ctx, id)
}

func (s *categoryService) Delete(ctx context.Context, id int32) (_ bool, err error) {
	ctx, end := traced(ctx, "category-service", "DeleteCategory", attribute.Int("category_id", int(id)))
	defer end(&err)

	// после удаления у товаров category_id уже NULL, поэтому собираем их заранее
	cached := s.itemsOf(ctx, id)
	found, err := s.categoryRepo.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if found {
		dropCachedItems(ctx, s.redisClient, cached...)
		slog.Info("category deleted", "method", "DeleteCategory", "category_id", id)
	}
	return found, nil
}

// itemsOf returns the ids of the items filed under category id. On a lookup
// failure it returns what it has and the cache TTL bounds the staleness.
func (s *categoryService) itemsOf(ctx context.Context, id int32) []int32 {
	if s.redisClient == nil || s.itemRepo == nil {
		return nil
	}
	var ids []int32
	filter := models.ItemFilter{CategoryID: &id, SortBy: "id", Limit: models.MaxLimit}
	for {
		page, err := s.itemRepo.List(ctx, filter)
		if err != nil {
			slog.Warn("failed to list category items", "category_id", id, "error", err)
			return ids
		}
		for _, item := range page {
			ids = append(ids, item.ID)
		}
		if len(page) < filter.Limit {
			return ids
		}
		filter.Skip += len(page)
	}
}
