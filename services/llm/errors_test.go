package llm

import (
	"errors"
	"fmt"
	"testing"
)

// TestIsRetryable_StatusClasses verifies the transient/permanent split the
// generation pipeline depends on.
func TestIsRetryable_StatusClasses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		expect bool
	}{
		{"network failure", &CompletionError{StatusCode: 0, Message: "dial tcp: timeout"}, true},
		{"rate limited", &CompletionError{StatusCode: 429, Message: "slow down"}, true},
		{"server error", &CompletionError{StatusCode: 500, Message: "boom"}, true},
		{"bad gateway", &CompletionError{StatusCode: 502, Message: "upstream"}, true},
		{"bad request", &CompletionError{StatusCode: 400, Message: "invalid prompt"}, false},
		{"unauthorized", &CompletionError{StatusCode: 401, Message: "bad key"}, false},
		{"not a completion error", errors.New("parse failure"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.expect {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.expect)
			}
		})
	}
}

// TestIsRetryable_WrappedError verifies classification survives wrapping.
func TestIsRetryable_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("completion call failed: %w", &CompletionError{StatusCode: 503, Message: "overloaded"})
	if !IsRetryable(wrapped) {
		t.Error("wrapped 503 should be retryable")
	}
}

func TestCompletionError_Error(t *testing.T) {
	netErr := &CompletionError{StatusCode: 0, Message: "connection refused"}
	if got := netErr.Error(); got != "completion service unreachable: connection refused" {
		t.Errorf("unexpected message: %q", got)
	}
	httpErr := &CompletionError{StatusCode: 429, Message: "rate limited"}
	if got := httpErr.Error(); got != "completion service returned status 429: rate limited" {
		t.Errorf("unexpected message: %q", got)
	}
}
