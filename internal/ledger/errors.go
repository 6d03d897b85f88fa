package ledger

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks a transport-level failure (connect error, timeout).
// The client does not retry these; whether the operation took effect upstream
// is unknown, so the retry decision belongs to the caller.
var ErrUnavailable = errors.New("ledger service unavailable")

// ErrRateLimited marks a single 429 response. Internal to the retry loop;
// callers see ErrRateLimitExceeded once the attempt budget is spent.
var ErrRateLimited = errors.New("ledger rate limited")

// ErrRateLimitExceeded is surfaced after the configured number of
// rate-limited attempts has been exhausted.
var ErrRateLimitExceeded = errors.New("ledger rate limit exceeded after retries")

// RejectedError is a non-2xx business rejection from the ledger service,
// carrying the upstream error code and message when the response body had a
// parseable error payload.
type RejectedError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ledger rejected request: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("ledger rejected request: status %d", e.StatusCode)
}
