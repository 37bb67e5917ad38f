package repository

import (
	"database/sql"
	"time"

	"github.com/honeynil/EquipmentLendingService/internal/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const itemColumns = `i.id, i.name, i.category_id, i.is_available, i.location, i.image_path, i.notes, i.registration_date, i.created_at, i.updated_at`

const transactionColumns = `t.id, t.item_id, t.user_id, t.type, t.status, t.related_transaction_id, t.reason, t.item_condition, t.notes, t.transaction_date, t.returned_date, t.created_at`

// itemScanner collects itemColumns, possibly trailing another row's columns.
type itemScanner struct {
	raw        models.Item
	categoryID sql.NullInt32
	location   sql.NullString
	imagePath  sql.NullString
	notes      sql.NullString
}

func (s *itemScanner) dest() []any {
	return []any{
		&s.raw.ID, &s.raw.Name, &s.categoryID, &s.raw.IsAvailable, &s.location, &s.imagePath, &s.notes,
		&s.raw.RegistrationDate, &s.raw.CreatedAt, &s.raw.UpdatedAt,
	}
}

func (s *itemScanner) item() *models.Item {
	item := s.raw
	item.CategoryID = int32Ptr(s.categoryID)
	item.Location = stringPtr(s.location)
	item.ImagePath = stringPtr(s.imagePath)
	item.Notes = stringPtr(s.notes)
	return &item
}

// scanItem reads itemColumns followed by extra destinations.
func scanItem(row rowScanner, extra ...any) (*models.Item, error) {
	var s itemScanner
	if err := row.Scan(append(s.dest(), extra...)...); err != nil {
		return nil, err
	}
	return s.item(), nil
}

// categoryProjection collects the LEFT JOINed category columns of an item.
type categoryProjection struct {
	name      sql.NullString
	createdAt sql.NullTime
	updatedAt sql.NullTime
}

func (p *categoryProjection) dest() []any {
	return []any{&p.name, &p.createdAt, &p.updatedAt}
}

func (p *categoryProjection) attach(item *models.Item) {
	if item.CategoryID == nil || !p.name.Valid {
		return
	}
	item.Category = &models.Category{
		ID:        *item.CategoryID,
		Name:      p.name.String,
		CreatedAt: p.createdAt.Time,
		UpdatedAt: p.updatedAt.Time,
	}
}

func scanTransaction(row rowScanner, extra ...any) (*models.Transaction, error) {
	var tx models.Transaction
	var related sql.NullInt32
	var reason, condition, notes sql.NullString
	var returned sql.NullTime
	dest := append([]any{
		&tx.ID, &tx.ItemID, &tx.UserID, &tx.Type, &tx.Status, &related, &reason, &condition, &notes,
		&tx.TransactionDate, &returned, &tx.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	tx.RelatedTransactionID = int32Ptr(related)
	tx.Reason = stringPtr(reason)
	tx.ItemCondition = stringPtr(condition)
	tx.Notes = stringPtr(notes)
	tx.ReturnedDate = timePtr(returned)
	return &tx, nil
}

func int32Ptr(v sql.NullInt32) *int32 {
	if !v.Valid {
		return nil
	}
	return &v.Int32
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}
