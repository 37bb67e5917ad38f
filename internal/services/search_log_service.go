package service

import (
	"context"
	"strings"

	"github.com/honeynil/EquipmentLendingService/internal/models"
	"github.com/honeynil/EquipmentLendingService/internal/repository"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
)

type SearchLogService interface {
	Record(ctx context.Context, userID *int32, keyword string) (*models.SearchLog, error)
}

type searchLogService struct {
	searchLogRepo repository.SearchLogRepository
}

func NewSearchLogService(searchLogRepo repository.SearchLogRepository) *searchLogService {
	return &searchLogService{searchLogRepo: searchLogRepo}
}

func (s *searchLogService) Record(ctx context.Context, userID *int32, keyword string) (_ *models.SearchLog, err error) {
	ctx, end := traced(ctx, "search-log-service", "RecordSearch")
	defer end(&err)

	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		err = pkgerrors.ErrInvalidInput
		return nil, err
	}

	entry := &models.SearchLog{UserID: userID, SearchKeyword: keyword}
	if err = s.searchLogRepo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
