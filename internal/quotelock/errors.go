package quotelock

import (
	"errors"
	"fmt"
)

// Error codes returned to API clients. The HTTP layer maps codes to status
// codes; everything else treats them as opaque.
const (
	CodeProductNotFound   = "PRODUCT_NOT_FOUND"
	CodeProductHidden     = "PRODUCT_HIDDEN"
	CodeNoExecutableQuote = "NO_EXECUTABLE_QUOTE"
	CodeQuoteStale        = "QUOTE_STALE"
	CodeLockNotFound      = "QUOTE_LOCK_NOT_FOUND"
	CodeLockForbidden     = "QUOTE_LOCK_FORBIDDEN"
	CodeLockAlreadyUsed   = "QUOTE_LOCK_ALREADY_USED"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
)

// Error is a typed, client-facing failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a typed Error if err carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
