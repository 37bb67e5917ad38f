package errors

import (
	"errors"
)

// Kinds. Every domain error below wraps exactly one of them, so callers can
// branch on the kind with errors.Is without knowing the specific error.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInternal          = errors.New("internal error")
)

var (
	ErrUserNotFound        = newError(ErrNotFound, "user not found")
	ErrItemNotFound        = newError(ErrNotFound, "item not found")
	ErrCategoryNotFound    = newError(ErrNotFound, "category not found")
	ErrTransactionNotFound = newError(ErrNotFound, "transaction not found")
	ErrRelatedNotFound     = newError(ErrNotFound, "related transaction not found")

	ErrDuplicateItemName     = newError(ErrConflict, "item name already exists")
	ErrDuplicateCategoryName = newError(ErrConflict, "category name already exists")
	ErrEmailExists           = newError(ErrConflict, "email already registered")
	ErrItemReserved          = newError(ErrConflict, "item already has an open request or loan")
	ErrAvailabilityManaged   = newError(ErrConflict, "availability is managed by the transaction ledger")
	ErrPromotionClaimed      = newError(ErrConflict, "grade promotion already claimed for this year")

	ErrStatusTransition = newError(ErrInvalidTransition, "status transition not allowed")
	ErrNothingToCancel  = newError(ErrInvalidTransition, "nothing to cancel")
	ErrNothingToReturn  = newError(ErrInvalidTransition, "nothing to return")

	ErrNilTransaction           = newError(ErrInvalidInput, "transaction is nil")
	ErrNilItem                  = newError(ErrInvalidInput, "item is nil")
	ErrNilUser                  = newError(ErrInvalidInput, "user is nil")
	ErrInvalidTransactionType   = newError(ErrInvalidInput, "invalid transaction type")
	ErrInvalidTransactionStatus = newError(ErrInvalidInput, "invalid transaction status")
	ErrInvalidGrade             = newError(ErrInvalidInput, "invalid grade")
	ErrNameRequired             = newError(ErrInvalidInput, "name is required")
	ErrInvalidCredentials       = newError(ErrUnauthorized, "invalid credentials")
	ErrInvalidToken             = newError(ErrUnauthorized, "invalid or expired token")
	ErrInactiveUser             = newError(ErrUnauthorized, "user is inactive")
	ErrAdminRequired            = newError(ErrForbidden, "admin privileges required")
	ErrPermissionDenied         = newError(ErrForbidden, "permission denied")
)

type domainError struct {
	kind error
	msg  string
}

func (e *domainError) Error() string { return e.msg }

func (e *domainError) Unwrap() error { return e.kind }

func newError(kind error, msg string) error {
	return &domainError{kind: kind, msg: msg}
}

// Stable kind codes exposed at the HTTP boundary.
const (
	KindNotFound          = "NOT_FOUND"
	KindConflict          = "CONFLICT"
	KindInvalidTransition = "INVALID_TRANSITION"
	KindInvalidInput      = "INVALID_INPUT"
	KindUnauthorized      = "UNAUTHORIZED"
	KindForbidden         = "FORBIDDEN"
	KindInternal          = "INTERNAL"
)

var kinds = []struct {
	err  error
	code string
}{
	{ErrNotFound, KindNotFound},
	{ErrConflict, KindConflict},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrInvalidInput, KindInvalidInput},
	{ErrUnauthorized, KindUnauthorized},
	{ErrForbidden, KindForbidden},
}

// Kind returns the stable code of err. Anything that is not a domain error is INTERNAL.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return KindInternal
}
