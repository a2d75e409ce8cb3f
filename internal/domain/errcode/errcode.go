// Package errcode defines the stable machine-readable codes carried by domain
// errors, so transport layers can render a specific message per failure kind.
package errcode

import "github.com/go-faster/errors"

// Stable error codes shared by all domain packages.
const (
	InsufficientStock   = "insufficient_stock"
	VariantMismatch     = "variant_mismatch"
	InvalidStatus       = "invalid_status"
	InvalidOperation    = "invalid_operation"
	CouponInvalid       = "coupon_invalid"
	ConcurrencyConflict = "concurrency_conflict"
	NotFound            = "not_found"
	InvalidRequest      = "invalid_request"
	Internal            = "internal"
)

// Coder is implemented by errors that carry a stable code.
type Coder interface {
	ErrorCode() string
}

// ErrConcurrencyConflict is returned when a row lock could not be acquired in
// time, or the database aborted the transaction to break a deadlock. The whole
// logical operation may be retried.
var ErrConcurrencyConflict = &codedError{code: ConcurrencyConflict, msg: "concurrent modification, retry the operation"}

type codedError struct {
	code string
	msg  string
}

func (e *codedError) Error() string     { return e.msg }
func (e *codedError) ErrorCode() string { return e.code }

// New returns a sentinel error with the given code and message.
func New(code, msg string) error {
	return &codedError{code: code, msg: msg}
}

// Of extracts the code of the first error in the chain implementing Coder.
// Errors without a code map to Internal.
func Of(err error) string {
	var c Coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return Internal
}

// Retryable reports whether the operation that produced err may be retried
// as a whole.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
