// Package errs holds the error taxonomy shared by the codec, signing, ledger, mirror and credential packages.
// Callers should match with errors.Is; every error returned by this module that belongs to the taxonomy wraps
// exactly one of these sentinels.
package errs

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrSizeExceeded           = errors.New("message size exceeded")
	ErrMalformedMessage       = errors.New("invalid message: malformed")
	ErrSignatureInvalid       = errors.New("invalid signature")
	ErrSignatureFormatInvalid = errors.New("invalid signature format")
	ErrMessageExpired         = errors.New("message expired")
	ErrNetworkTimeout         = errors.New("network timeout")
	ErrRateLimitExceeded      = errors.New("rate limit exceeded")
	ErrNotFound               = errors.New("not_found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrValidationFailed       = errors.New("validation failed: invalid")
	ErrLimitExceeded          = errors.New("limit exceeded")
	ErrTamperingDetected      = errors.New("tampering detected")
	ErrRetryExhausted         = errors.New("retry attempts exhausted")
)

// terminal errors are never worth another attempt: the same input will fail the same way.
var terminal = []error{
	ErrSizeExceeded,
	ErrMalformedMessage,
	ErrSignatureInvalid,
	ErrSignatureFormatInvalid,
	ErrMessageExpired,
	ErrNotFound,
	ErrUnauthorized,
	ErrValidationFailed,
	ErrLimitExceeded,
	ErrTamperingDetected,
}

// NonRetryablePatterns are matched case-insensitively against the message of errors that do not belong to the
// taxonomy, e.g. errors surfaced verbatim by the ledger or the mirror.
var NonRetryablePatterns = []string{
	"invalid",
	"not_found",
	"unauthorized",
	"forbidden",
	"bad_request",
}

// IsRetryable reports whether an operation that failed with err may succeed if attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNetworkTimeout) || errors.Is(err, ErrRateLimitExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// The caller gave up, so retrying is pointless
	if errors.Is(err, context.Canceled) {
		return false
	}

	for _, t := range terminal {
		if errors.Is(err, t) {
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range NonRetryablePatterns {
		if strings.Contains(msg, pattern) {
			return false
		}
	}

	return true
}
