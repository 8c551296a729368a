package domain

import "errors"

var (
	// ErrNoIdentity is returned when an operation needs a signed in user and
	// there is none.
	ErrNoIdentity = errors.New("no user logged in")

	// ErrUnknownCategory is returned for category names outside the fixed set.
	ErrUnknownCategory = errors.New("unknown category")
)

// ValidationError describes invalid user input for a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
