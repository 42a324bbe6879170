package challenge

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound      = errors.New("challenge: not found")
	ErrExpired       = errors.New("challenge: expired")
	ErrUsed          = errors.New("challenge: already used")
	ErrShapeMismatch = errors.New("challenge: issued for a different shape")
	ErrNoShape       = errors.New("challenge: no shape to issue")
	ErrMissingField  = errors.New("challenge: missing field")
	ErrInvalidFormat = errors.New("challenge: field has invalid format")
)

// Invalid reports whether err means the challenge cannot be answered, as
// opposed to the ledger failing.
func Invalid(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrUsed) ||
		errors.Is(err, ErrShapeMismatch)
}

func NewError(verb, publicReason string, privateReason error) *Error {
	statusCode := http.StatusBadRequest
	if Invalid(privateReason) {
		statusCode = http.StatusForbidden
	}

	return &Error{
		Verb:          verb,
		PublicReason:  publicReason,
		PrivateReason: privateReason,
		StatusCode:    statusCode,
	}
}

// Error is a request-level failure. PublicReason is safe to show to the
// client; PrivateReason is only logged.
type Error struct {
	PrivateReason error
	Verb          string
	PublicReason  string
	StatusCode    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("challenge: error when processing challenge: %s: %v", e.Verb, e.PrivateReason)
}

func (e *Error) Unwrap() error {
	return e.PrivateReason
}
