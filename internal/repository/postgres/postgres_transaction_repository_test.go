package repository_test

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/honeynil/EquipmentLendingService/internal/models"
	repository "github.com/honeynil/EquipmentLendingService/internal/repository/postgres"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detailsColumns() []string {
	cols := append([]string{}, transactionRowColumns...)
	cols = append(cols, itemRowColumns...)
	return append(cols, "u_id", "u_name", "u_email", "u_grade")
}

func TestPostgresTransactionRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresTransactionRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("Cancelled", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM item_transactions t WHERE t.id = $1`)).
			WithArgs(int32(1)).
			WillReturnRows(sqlmock.NewRows(transactionRowColumns).
				AddRow(1, 3, 5, "borrow", nil, nil, nil, nil, nil, now, nil, now))

		tx, err := repo.GetByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, tx.Status)
		assert.Nil(t, tx.ReturnedDate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ReturnEntry", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM item_transactions t WHERE t.id = $1`)).
			WithArgs(int32(2)).
			WillReturnRows(sqlmock.NewRows(transactionRowColumns).
				AddRow(2, 3, 5, "return", "returned", 1, nil, "scratched", nil, now, now, now))

		tx, err := repo.GetByID(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, models.TypeReturn, tx.Type)
		assert.Equal(t, int32(1), *tx.RelatedTransactionID)
		assert.Equal(t, "scratched", *tx.ItemCondition)
		require.NotNil(t, tx.ReturnedDate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM item_transactions t WHERE t.id = $1`)).
			WithArgs(int32(3)).
			WillReturnRows(sqlmock.NewRows(transactionRowColumns))

		tx, err := repo.GetByID(ctx, 3)
		assert.Nil(t, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTransactionRepository_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresTransactionRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("FilteredWithProjections", func(t *testing.T) {
		status := models.StatusApproved
		filter := models.TransactionFilter{UserID: i32Ptr(5), ItemID: i32Ptr(3), Status: &status, Skip: 0, Limit: 20}
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE t.user_id = $1 AND t.item_id = $2 AND t.status = $3 ORDER BY t.transaction_date DESC, t.id DESC LIMIT $4 OFFSET $5`)).
			WithArgs(int32(5), int32(3), "approved", 20, 0).
			WillReturnRows(sqlmock.NewRows(detailsColumns()).
				AddRow(9, 3, 5, "borrow", "approved", nil, nil, nil, nil, now, nil, now,
					3, "Camera", 1, false, nil, nil, nil, now, now, now, "Photo", now, now,
					5, "Hanako", "hanako@example.com", "M1"))

		list, err := repo.List(ctx, filter)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, int32(9), list[0].ID)
		assert.Equal(t, "Camera", list[0].Item.Name)
		require.NotNil(t, list[0].Item.Category)
		assert.Equal(t, "Photo", list[0].Item.Category.Name)
		assert.Equal(t, models.GradeM1, list[0].User.Grade)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CancelledFilterUsesNull", func(t *testing.T) {
		status := models.StatusCancelled
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE t.status IS NULL ORDER BY t.transaction_date DESC, t.id DESC LIMIT $1 OFFSET $2`)).
			WithArgs(100, 0).
			WillReturnRows(sqlmock.NewRows(detailsColumns()))

		list, err := repo.List(ctx, models.TransactionFilter{Status: &status, Limit: 100})
		require.NoError(t, err)
		assert.Empty(t, list)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM item_transactions t`)).WillReturnError(fmt.Errorf("database error"))

		list, err := repo.List(ctx, models.TransactionFilter{Limit: 100})
		assert.Nil(t, list)
		assert.Contains(t, err.Error(), "failed to list transactions")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
