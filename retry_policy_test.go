package kueri

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultRetryPolicyDeterministicDelays(t *testing.T) {
	policy := NewDefaultRetryPolicy(3, time.Second, 30*time.Second, 2.0, 0)
	serverErr := &RequestError{Type: ErrorTypeServer, StatusCode: 503}

	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for attempt, want := range expected {
		delay, retry := policy.ShouldRetry(serverErr, attempt)
		if !retry {
			t.Fatalf("attempt %d should retry", attempt)
		}
		if delay != want {
			t.Errorf("attempt %d: delay = %v, want %v", attempt, delay, want)
		}
	}

	// Attempt 3 exhausts the budget: 1 initial + 3 retries = 4 calls total.
	if _, retry := policy.ShouldRetry(serverErr, 3); retry {
		t.Error("attempt 3 should not retry with maxRetries=3")
	}
}

func TestDefaultRetryPolicyNoRetryOnNil(t *testing.T) {
	policy := NewDefaultRetryPolicy(3, time.Second, 30*time.Second, 2.0, 0)
	if _, retry := policy.ShouldRetry(nil, 0); retry {
		t.Error("nil error should not retry")
	}
}

func TestDefaultRetryPolicyClientErrorsSurfaceImmediately(t *testing.T) {
	policy := NewDefaultRetryPolicy(3, time.Second, 30*time.Second, 2.0, 0)

	notFound := &RequestError{Type: ErrorTypeClient, StatusCode: 404}
	if _, retry := policy.ShouldRetry(notFound, 0); retry {
		t.Error("404 should not retry")
	}

	validation := &RequestError{Type: ErrorTypeValidation}
	if _, retry := policy.ShouldRetry(validation, 0); retry {
		t.Error("validation errors should not retry")
	}

	tooMany := &RequestError{Type: ErrorTypeClient, StatusCode: 429}
	if _, retry := policy.ShouldRetry(tooMany, 0); !retry {
		t.Error("429 should retry")
	}
}

func TestDefaultRetryPolicyRetriesTransientErrors(t *testing.T) {
	policy := NewDefaultRetryPolicy(3, time.Second, 30*time.Second, 2.0, 0)

	for _, errType := range []string{ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer} {
		if _, retry := policy.ShouldRetry(&RequestError{Type: errType}, 0); !retry {
			t.Errorf("%s errors should retry", errType)
		}
	}
}

func TestDefaultRetryPolicyNoRetryOnCancellation(t *testing.T) {
	policy := NewDefaultRetryPolicy(3, time.Second, 30*time.Second, 2.0, 0)

	if _, retry := policy.ShouldRetry(context.Canceled, 0); retry {
		t.Error("context.Canceled should not retry")
	}

	wrapped := &RequestError{Type: ErrorTypeNetwork, Message: "aborted", Cause: context.Canceled}
	if _, retry := policy.ShouldRetry(wrapped, 0); retry {
		t.Error("wrapped cancellation should not retry")
	}
}

func TestDefaultRetryPolicyDelaysCapped(t *testing.T) {
	policy := NewDefaultRetryPolicy(10, time.Second, 5*time.Second, 2.0, 0)
	serverErr := &RequestError{Type: ErrorTypeServer, StatusCode: 500}

	delay, retry := policy.ShouldRetry(serverErr, 9)
	if !retry {
		t.Fatal("attempt 9 should retry with maxRetries=10")
	}
	if delay != 5*time.Second {
		t.Errorf("delay = %v, want cap 5s", delay)
	}
}

func TestDefaultRetryPolicyUnknownErrorsNotRetried(t *testing.T) {
	policy := NewDefaultRetryPolicy(3, time.Second, 30*time.Second, 2.0, 0)
	if _, retry := policy.ShouldRetry(errors.New("something else"), 0); retry {
		t.Error("unclassified errors should not retry")
	}
}
