package llm

import (
	"errors"
	"fmt"
)

// CompletionError is a failure from the completion service carrying an
// HTTP-status-like code. StatusCode 0 means the request never produced a
// response (network failure, timeout).
type CompletionError struct {
	StatusCode int
	Message    string
}

func (e *CompletionError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("completion service unreachable: %s", e.Message)
	}
	return fmt.Sprintf("completion service returned status %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether err is worth retrying with backoff.
//
// Retryable: network-level failures (status 0), 429 rate limits and
// 5xx-class responses. Everything else (other 4xx, parse errors wrapped by
// callers) is treated as non-transient and propagates immediately.
func IsRetryable(err error) bool {
	var ce *CompletionError
	if !errors.As(err, &ce) {
		return false
	}
	if ce.StatusCode == 0 {
		return true
	}
	return ce.StatusCode == 429 || ce.StatusCode >= 500
}
