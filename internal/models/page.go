package models

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// NormalizePage clamps paging parameters to the accepted range.
func NormalizePage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return skip, limit
}
