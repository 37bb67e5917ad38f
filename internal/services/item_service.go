package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	stderrors "errors"

	"github.com/honeynil/EquipmentLendingService/internal/infrastructure/redis"
	"github.com/honeynil/EquipmentLendingService/internal/models"
	"github.com/honeynil/EquipmentLendingService/internal/repository"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const itemCacheTTL = 5 * time.Minute

type ItemService interface {
	Create(ctx context.Context, in models.ItemInput) (*models.Item, error)
	Get(ctx context.Context, id int32) (*models.Item, error)
	List(ctx context.Context, filter models.ItemFilter) ([]models.Item, error)
	Update(ctx context.Context, id int32, patch models.ItemPatch) (*models.Item, error)
	Delete(ctx context.Context, id int32) (bool, error)
}

type itemService struct {
	itemRepo    repository.ItemRepository
	ledger      repository.Ledger
	redisClient redis.RedisClient
}

func NewItemService(itemRepo repository.ItemRepository, ledger repository.Ledger, redisClient redis.RedisClient) *itemService {
	return &itemService{
		itemRepo:    itemRepo,
		ledger:      ledger,
		redisClient: redisClient,
	}
}

func (s *itemService) Create(ctx context.Context, in models.ItemInput) (_ *models.Item, err error) {
	ctx, end := traced(ctx, "item-service", "CreateItem")
	defer end(&err)

	name := strings.TrimSpace(in.Name)
	if name == "" {
		err = pkgerrors.ErrNameRequired
		return nil, err
	}

	item := &models.Item{
		Name:        name,
		CategoryID:  in.CategoryID,
		IsAvailable: true,
		Location:    in.Location,
		ImagePath:   in.ImagePath,
		Notes:       in.Notes,
	}
	if err = s.itemRepo.Create(ctx, item); err != nil {
		slog.Warn("item not created", "method", "CreateItem", "name", name, "error", err)
		return nil, err
	}

	slog.Info("item created", "method", "CreateItem", "item_id", item.ID, "name", item.Name)
	return s.itemRepo.GetByID(ctx, item.ID)
}

// Get reads through the item cache.
func (s *itemService) Get(ctx context.Context, id int32) (_ *models.Item, err error) {
	ctx, end := traced(ctx, "item-service", "GetItem", attribute.Int("item_id", int(id)))
	defer end(&err)

	key := redis.ItemKey(id)
	if s.redisClient != nil {
		cached, err := s.redisClient.Get(ctx, key)
		if err == nil {
			var item models.Item
			if err := json.Unmarshal([]byte(cached), &item); err == nil {
				return &item, nil
			}
			slog.Warn("dropping malformed cached item", "item_id", id, "error", err)
		} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
			slog.Warn("item cache unavailable", "item_id", id, "error", err)
		}
	}

	item, err := s.itemRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.redisClient != nil {
		if raw, err := json.Marshal(item); err == nil {
			if err := s.redisClient.Set(ctx, key, string(raw), itemCacheTTL); err != nil {
				slog.Warn("failed to cache item", "item_id", id, "error", err)
			}
		}
	}
	return item, nil
}

func (s *itemService) List(ctx context.Context, filter models.ItemFilter) (_ []models.Item, err error) {
	ctx, end := traced(ctx, "item-service", "ListItems")
	defer end(&err)

	filter.Skip, filter.Limit = models.NormalizePage(filter.Skip, filter.Limit)
	return s.itemRepo.List(ctx, filter)
}

// Update merges patch into the item. Availability follows the ledger: a
// value that agrees with it is accepted, one that contradicts it is refused.
func (s *itemService) Update(ctx context.Context, id int32, patch models.ItemPatch) (_ *models.Item, err error) {
	ctx, end := traced(ctx, "item-service", "UpdateItem", attribute.Int("item_id", int(id)))
	defer end(&err)

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			err = pkgerrors.ErrNameRequired
			return nil, err
		}
		patch.Name = &name
	}

	err = s.ledger.Within(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		item, err := tx.LockItem(ctx, id)
		if err != nil {
			return err
		}
		if patch.Empty() {
			return nil
		}

		if patch.IsAvailable != nil && *patch.IsAvailable != item.IsAvailable {
			open, err := tx.OpenTransactions(ctx, id)
			if err != nil {
				return err
			}
			lent := false
			for _, t := range open {
				if t.Status == models.StatusApproved {
					lent = true
				}
			}
			if *patch.IsAvailable == lent {
				return fmt.Errorf("%w: item %d", pkgerrors.ErrAvailabilityManaged, id)
			}
			item.IsAvailable = *patch.IsAvailable
		}

		if patch.Name != nil {
			item.Name = *patch.Name
		}
		if patch.CategoryID != nil {
			item.CategoryID = patch.CategoryID
		}
		if patch.Location != nil {
			item.Location = patch.Location
		}
		if patch.ImagePath != nil {
			item.ImagePath = patch.ImagePath
		}
		if patch.Notes != nil {
			item.Notes = patch.Notes
		}
		return tx.UpdateItem(ctx, item)
	})
	if err != nil {
		slog.Warn("item not updated", "method", "UpdateItem", "item_id", id, "error", err)
		return nil, err
	}

	s.invalidate(ctx, id)
	return s.itemRepo.GetByID(ctx, id)
}

func (s *itemService) Delete(ctx context.Context, id int32) (_ bool, err error) {
	ctx, end := traced(ctx, "item-service", "DeleteItem", attribute.Int("item_id", int(id)))
	defer end(&err)

	found, err := s.itemRepo.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if found {
		s.invalidate(ctx, id)
		slog.Info("item deleted", "method", "DeleteItem", "item_id", id)
	}
	return found, nil
}

func (s *itemService) invalidate(ctx context.Context, id int32) {
	dropCachedItems(ctx, s.redisClient, id)
}
