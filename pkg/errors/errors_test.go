package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"item not found", ErrItemNotFound, KindNotFound},
		{"wrapped not found", fmt.Errorf("load item 7: %w", ErrItemNotFound), KindNotFound},
		{"duplicate category", ErrDuplicateCategoryName, KindConflict},
		{"nothing to cancel", ErrNothingToCancel, KindInvalidTransition},
		{"bad type", ErrInvalidTransactionType, KindInvalidInput},
		{"credentials", ErrInvalidCredentials, KindUnauthorized},
		{"admin", ErrAdminRequired, KindForbidden},
		{"plain error", errors.New("boom"), KindInternal},
		{"nil", nil, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestDomainErrorMessage(t *testing.T) {
	assert.Equal(t, "nothing to cancel", ErrNothingToCancel.Error())
	assert.ErrorIs(t, ErrNothingToCancel, ErrInvalidTransition)
	assert.NotErrorIs(t, ErrNothingToCancel, ErrNotFound)
}
