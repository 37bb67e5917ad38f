package models

import "time"

type Item struct {
	ID               int32     `json:"id"`
	Name             string    `json:"name"`
	CategoryID       *int32    `json:"category_id"`
	IsAvailable      bool      `json:"is_available"`
	Location         *string   `json:"location"`
	ImagePath        *string   `json:"image_path"`
	Notes            *string   `json:"notes"`
	RegistrationDate time.Time `json:"registration_date"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Category         *Category `json:"category"`
}

type ItemInput struct {
	Name       string  `json:"name"`
	CategoryID *int32  `json:"category_id,omitempty"`
	Location   *string `json:"location,omitempty"`
	ImagePath  *string `json:"image_path,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}

// ItemPatch carries a partial update; nil fields are left untouched.
type ItemPatch struct {
	Name        *string `json:"name,omitempty"`
	CategoryID  *int32  `json:"category_id,omitempty"`
	IsAvailable *bool   `json:"is_available,omitempty"`
	Location    *string `json:"location,omitempty"`
	ImagePath   *string `json:"image_path,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

func (p ItemPatch) Empty() bool {
	return p.Name == nil && p.CategoryID == nil && p.IsAvailable == nil &&
		p.Location == nil && p.ImagePath == nil && p.Notes == nil
}

type ItemFilter struct {
	CategoryID  *int32
	Name        string
	Location    *string
	IsAvailable *bool
	SortBy      string
	SortOrder   string
	Skip        int
	Limit       int
}
