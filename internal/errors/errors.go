package errors

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnauthorized = errors.New("admin credentials required")

var (
	ErrEventNotFound      = errors.New("event not found")
	ErrTicketTypeNotFound = errors.New("ticket type not found")
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrInvalidSelection   = errors.New("invalid ticket selection")
	ErrNoRecipient        = errors.New("ticket has no purchaser email")
	ErrProviderFailure    = errors.New("checkout provider request failed")
	ErrSearchUnavailable  = errors.New("ticket search is unavailable")

	// ErrDuplicateNotification marks a notification id already present in the ledger.
	ErrDuplicateNotification = errors.New("notification already processed")
)

// Capacity rejection reasons
const (
	ReasonNotOnSale             = "not-on-sale"
	ReasonPerOrderCapExceeded   = "per-order-cap-exceeded"
	ReasonInsufficientInventory = "insufficient-inventory-remaining"
)

// CapacityError rejects a checkout attempt before any payment step.
type CapacityError struct {
	TicketTypeID   int64
	TicketTypeName string
	Reason         string
	Remaining      int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("ticket type %d (%s): %s", e.TicketTypeID, e.TicketTypeName, e.Detail())
}

// Detail returns the reason string exposed to buyers.
func (e *CapacityError) Detail() string {
	if e.Reason == ReasonInsufficientInventory {
		return fmt.Sprintf("%s:%d", e.Reason, e.Remaining)
	}
	return e.Reason
}

// AuthenticityError is returned for webhook payloads that fail signature verification.
type AuthenticityError struct {
	Reason string
}

func (e *AuthenticityError) Error() string {
	return "webhook authenticity check failed: " + e.Reason
}

// DispatchFailure wraps a confirmation that could not be handed to the mailer.
type DispatchFailure struct {
	Email  string
	Tokens []string
	Err    error
}

func (e *DispatchFailure) Error() string {
	return fmt.Sprintf("confirmation dispatch to %s failed (tickets: %s): %v",
		e.Email, strings.Join(e.Tokens, ","), e.Err)
}

func (e *DispatchFailure) Unwrap() error {
	return e.Err
}

// ReaperConflict marks a hold that stopped being reclaimable between selection and delete.
type ReaperConflict struct {
	ReservationID int64
	Reason        string
}

func (e *ReaperConflict) Error() string {
	return fmt.Sprintf("reservation %d skipped by reaper: %s", e.ReservationID, e.Reason)
}

// IsCapacity reports whether err carries a CapacityError.
func IsCapacity(err error) (*CapacityError, bool) {
	var ce *CapacityError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsAuthenticity reports whether err carries an AuthenticityError.
func IsAuthenticity(err error) bool {
	var ae *AuthenticityError
	return errors.As(err, &ae)
}
