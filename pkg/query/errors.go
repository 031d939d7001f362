package query

import "fmt"

// IllegalAccountError is recorded on a query whose access account option
// could not be resolved to an account.
type IllegalAccountError struct {
	Value any
	Err   error
}

func (e *IllegalAccountError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("illegal access account %v (%T): %v", e.Value, e.Value, e.Err)
	}
	return fmt.Sprintf("illegal access account %v (%T)", e.Value, e.Value)
}

func (e *IllegalAccountError) Unwrap() error { return e.Err }

// MissingTagError is returned when no condition group carries Tag.
type MissingTagError struct {
	Tag string
}

func (e *MissingTagError) Error() string {
	return fmt.Sprintf("no condition group tagged %q", e.Tag)
}
