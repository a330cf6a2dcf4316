package coupon

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Reason is the machine-readable cause of a coupon rejection.
type Reason string

const (
	ReasonInvalidCode      Reason = "invalid_code"
	ReasonInactive         Reason = "inactive"
	ReasonNotYetValid      Reason = "not_yet_valid"
	ReasonExpired          Reason = "expired"
	ReasonFullyUsed        Reason = "fully_used"
	ReasonMinimumNotMet    Reason = "minimum_not_met"
	ReasonWrongMerchant    Reason = "wrong_merchant"
	ReasonUserLimitReached Reason = "user_limit_reached"
)

// One sentinel per rejection reason, so callers can use errors.Is.
var (
	ErrInvalidCode      = errors.New("invalid coupon code")
	ErrInactive         = errors.New("coupon is inactive")
	ErrNotYetValid      = errors.New("coupon is not valid yet")
	ErrExpired          = errors.New("coupon expired")
	ErrFullyUsed        = errors.New("coupon usage limit reached")
	ErrMinimumNotMet    = errors.New("order minimum not met")
	ErrWrongMerchant    = errors.New("coupon is not valid for this merchant")
	ErrUserLimitReached = errors.New("coupon already used the maximum number of times by this customer")
)

var reasonErrors = map[Reason]error{
	ReasonInvalidCode:      ErrInvalidCode,
	ReasonInactive:         ErrInactive,
	ReasonNotYetValid:      ErrNotYetValid,
	ReasonExpired:          ErrExpired,
	ReasonFullyUsed:        ErrFullyUsed,
	ReasonMinimumNotMet:    ErrMinimumNotMet,
	ReasonWrongMerchant:    ErrWrongMerchant,
	ReasonUserLimitReached: ErrUserLimitReached,
}

// RejectionError reports why a coupon cannot be applied.
type RejectionError struct {
	Reason  Reason
	Message string
}

func (e *RejectionError) Error() string {
	return e.Message
}

// Unwrap returns the sentinel for the reason.
func (e *RejectionError) Unwrap() error {
	return reasonErrors[e.Reason]
}

func reject(reason Reason) *RejectionError {
	return &RejectionError{Reason: reason, Message: reasonErrors[reason].Error()}
}

func rejectMinimum(minimum decimal.Decimal) *RejectionError {
	return &RejectionError{
		Reason:  ReasonMinimumNotMet,
		Message: fmt.Sprintf("order minimum of %s not met", minimum.StringFixed(2)),
	}
}

// ReasonOf extracts the rejection reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	for reason, sentinel := range reasonErrors {
		if errors.Is(err, sentinel) {
			return reason, true
		}
	}
	return "", false
}

// ValidationError reports malformed coupon definitions.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
