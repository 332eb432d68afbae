package httpclient

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryableError_Error(t *testing.T) {
	err := &RetryableError{
		StatusCode: 429,
		Message:    "max HTTP retries (5) exceeded",
		RetryAfter: 30 * time.Second,
	}
	want := "HTTP 429: max HTTP retries (5) exceeded (retry after 30s)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	noDelay := &RetryableError{StatusCode: 503, Message: "upstream down"}
	if noDelay.Error() != "HTTP 503: upstream down" {
		t.Errorf("Error() = %q", noDelay.Error())
	}
}

func TestRetryableError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("HTTP 503")
	err := &RetryableError{StatusCode: 503, Message: "exhausted", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}

func TestErrorClassifiers(t *testing.T) {
	rateLimited := fmt.Errorf("run failed: %w",
		&RetryableError{StatusCode: 429, Message: "exhausted"})
	transient := fmt.Errorf("run failed: %w",
		&RetryableError{StatusCode: 502, Message: "exhausted"})
	plain := errors.New("boom")

	if !IsRateLimited(rateLimited) {
		t.Error("IsRateLimited(429) = false")
	}
	if IsRateLimited(transient) {
		t.Error("IsRateLimited(502) = true")
	}
	if !IsTransient(transient) {
		t.Error("IsTransient(502) = false")
	}
	if IsTransient(plain) {
		t.Error("IsTransient(plain error) = true")
	}
}
