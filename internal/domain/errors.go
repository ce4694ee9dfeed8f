package domain

import "errors"

var (
	// ErrNotFound signals a missing tracking record or purchase order.
	ErrNotFound = errors.New("not found")
	// ErrValidation signals invalid input data.
	ErrValidation = errors.New("validation error")
	// ErrConflict signals a state transition that is no longer possible.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorizedApprover signals a reply from an address other than the
	// one the tracking record was sent to.
	ErrUnauthorizedApprover = errors.New("unauthorized approver")
	// ErrDuplicateTrackingCode signals a tracking code collision on insert.
	ErrDuplicateTrackingCode = errors.New("duplicate tracking code")
)
