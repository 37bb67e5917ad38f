package models

import "time"

type SearchLog struct {
	ID            int32     `json:"id"`
	UserID        *int32    `json:"user_id"`
	SearchKeyword string    `json:"search_keyword"`
	SearchedAt    time.Time `json:"searched_at"`
}
