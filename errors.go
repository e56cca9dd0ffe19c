package checkout

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrOrderNotFound   = errors.New("order not found")
	ErrAlreadyCaptured = errors.New("authorization already captured")
	ErrAlreadyCanceled = errors.New("authorization already canceled")
	ErrNotCapturable   = errors.New("authorization not capturable")
	ErrCorruptRecord   = errors.New("corrupt order record")
	ErrRecordTooLarge  = errors.New("order record exceeds field size limit")
)

// ChargeError is a failed immediate charge. Declined means the card was
// refused and a human must re-approve after the customer updates payment
// details; Retryable means a transport or gateway failure where retrying
// with the same idempotency key is safe.
type ChargeError struct {
	Declined  bool
	Retryable bool
	Code      string
	Err       error
}

func (e *ChargeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("charge failed (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("charge failed: %v", e.Err)
}

func (e *ChargeError) Unwrap() error { return e.Err }
