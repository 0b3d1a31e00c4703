package proof

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no proof exists for the given public ID.
var ErrNotFound = errors.New("proof not found")

// ErrDuplicatePublicID is returned when inserting a proof whose public ID is
// already taken.
var ErrDuplicatePublicID = errors.New("public ID already exists")

// Validation errors, checked before any storage access.
var (
	ErrMerchantRequired  = errors.New("merchant is required")
	ErrReferenceRequired = errors.New("reference is required")
	ErrReasonRequired    = errors.New("rejection reason is required")
	ErrEvidenceRequired  = errors.New("evidence file is required")
)

// IllegalTransitionError is returned when verify or reject is attempted on a
// proof that is not pending. The message names the current status for
// diagnosability.
type IllegalTransitionError struct {
	Action  string
	Current Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot %s from status '%s'", e.Action, e.Current)
}

// IsIllegalTransition reports whether err is an IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var ite *IllegalTransitionError
	return errors.As(err, &ite)
}
