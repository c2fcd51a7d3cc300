package ledger

import "errors"

var (
	// ErrAccountNotFound is returned for operations on a user that never ran /start.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientPoints is returned when a spend would drive the balance negative.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrInvalidAmount is returned for negative credit amounts.
	ErrInvalidAmount = errors.New("invalid points amount")
)
