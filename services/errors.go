package services

import (
	"errors"
	"fmt"

	"shop-service/database"
)

var (
	// ErrValidation signals malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound signals an unknown product, order, user or refund request.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized signals missing or bad credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden signals an identity that may not act on the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict signals a uniqueness violation, e.g. a registered email.
	ErrConflict = errors.New("conflict")

	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrNotCancellable    = errors.New("order cannot be cancelled")
	ErrNotEligible       = errors.New("order is not eligible for refund")
	ErrWindowExpired     = errors.New("refund window expired")
	ErrAlreadyRequested  = errors.New("refund already requested")
	ErrRefundResolved    = errors.New("refund request already approved")
)

// mapStoreError translates store sentinels into service errors. what names
// the entity for the message.
func mapStoreError(err error, what string, id any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("%w: %s %v", ErrNotFound, what, id)
	case errors.Is(err, database.ErrDuplicate):
		return fmt.Errorf("%w: %s %v", ErrConflict, what, id)
	default:
		return err
	}
}
