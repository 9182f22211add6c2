package checkout

import (
	"errors"
	"fmt"
)

// Reason is the machine-distinguishable cause of a rejected or aborted checkout.
type Reason string

const (
	ReasonInvalidItem        Reason = "invalid_item"
	ReasonInvalidQuantity    Reason = "invalid_quantity"
	ReasonInsufficientStock  Reason = "insufficient_stock"
	ReasonPersistenceFailure Reason = "persistence_failure"
	ReasonTimeout            Reason = "timeout"
)

var (
	ErrInvalidItem        = errors.New("invalid menu item")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrTimeout            = errors.New("checkout timed out")

	ErrNotFound           = errors.New("not found")
	ErrIngredientNotFound = errors.New("ingredient not found")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidRecipe      = errors.New("invalid recipe")
)

var reasonErrors = map[Reason]error{
	ReasonInvalidItem:        ErrInvalidItem,
	ReasonInvalidQuantity:    ErrInvalidQuantity,
	ReasonInsufficientStock:  ErrInsufficientStock,
	ReasonPersistenceFailure: ErrPersistenceFailure,
	ReasonTimeout:            ErrTimeout,
}

// RejectedError is returned when a checkout fails validation. Nothing was
// written.
type RejectedError struct {
	Reason Reason
	// Line is the zero-based cart line that caused an item or quantity
	// rejection, -1 when the cart as a whole was rejected.
	Line       int
	MenuItemID string
	Shortages  []Shortage
}

func (e *RejectedError) Error() string {
	switch e.Reason {
	case ReasonInsufficientStock:
		return fmt.Sprintf("checkout rejected: %s (%d ingredients short)", e.Reason, len(e.Shortages))
	case ReasonInvalidItem, ReasonInvalidQuantity:
		if e.Line >= 0 {
			return fmt.Sprintf("checkout rejected: %s at line %d (menu item %q)", e.Reason, e.Line, e.MenuItemID)
		}
	}
	return fmt.Sprintf("checkout rejected: %s", e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return reasonErrors[e.Reason]
}

// AbortedError is returned when infrastructure failed during a checkout. Any
// tentative stock change was rolled back before it was returned.
type AbortedError struct {
	Reason Reason
	Err    error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("checkout aborted: %s: %v", e.Reason, e.Err)
}

func (e *AbortedError) Unwrap() []error {
	if e.Err == nil {
		return []error{reasonErrors[e.Reason]}
	}
	return []error{reasonErrors[e.Reason], e.Err}
}

// StockError is returned by Ledger.Deduct when the requirement cannot be
// covered. No ingredient was deducted.
type StockError struct {
	Shortages []Shortage
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: %d ingredients short", ErrInsufficientStock, len(e.Shortages))
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// ReasonOf extracts the checkout reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason, true
	}
	var aborted *AbortedError
	if errors.As(err, &aborted) {
		return aborted.Reason, true
	}
	return "", false
}
