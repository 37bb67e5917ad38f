package repository

import (
	"context"

	"github.com/honeynil/EquipmentLendingService/internal/models"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int32) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, skip, limit int) ([]models.User, error)
	Update(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id int32, passwordHash string) error
	Delete(ctx context.Context, id int32) (bool, error)
	// PromoteGrades deactivates users that are already OB_OG and then advances
	// every other grade by one step, atomically.
	PromoteGrades(ctx context.Context) (promoted, deactivated int64, err error)
}
