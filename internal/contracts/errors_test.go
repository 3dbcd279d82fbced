package contracts

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapCategorizedError_NewErrorUsesProvidedCategory(t *testing.T) {
	wrapped := WrapCategorizedError(ErrorCategoryCrypto, errors.New("boom"))
	var classified *CategorizedError
	if !errors.As(wrapped, &classified) {
		t.Fatalf("expected categorized error, got %T", wrapped)
	}
	if classified.Category != ErrorCategoryCrypto {
		t.Fatalf("expected category=%q, got %q", ErrorCategoryCrypto, classified.Category)
	}
}

func TestWrapCategorizedError_KeepsExistingCategory(t *testing.T) {
	inner := WrapCategorizedError(ErrorCategoryNetwork, errors.New("dial tcp: refused"))
	rewrapped := WrapCategorizedError(ErrorCategoryCrypto, fmt.Errorf("push vault: %w", inner))
	if got := ErrorCategory(rewrapped); got != ErrorCategoryNetwork {
		t.Fatalf("expected category=%q, got %q", ErrorCategoryNetwork, got)
	}
}

func TestWrapCategorizedError_NormalizesUnknownCategoryToAPI(t *testing.T) {
	wrapped := WrapCategorizedError("unknown", errors.New("boom"))
	if got := ErrorCategory(wrapped); got != ErrorCategoryAPI {
		t.Fatalf("expected category=%q, got %q", ErrorCategoryAPI, got)
	}
}

func TestErrorCategory_DefaultsToAPIForRegularErrors(t *testing.T) {
	if got := ErrorCategory(errors.New("plain")); got != ErrorCategoryAPI {
		t.Fatalf("expected default category=%q, got %q", ErrorCategoryAPI, got)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(WrapCategorizedError(ErrorCategoryNetwork, errors.New("timeout"))) {
		t.Fatal("network errors should be retryable")
	}
	if Retryable(WrapCategorizedError(ErrorCategoryCrypto, errors.New("bad key"))) {
		t.Fatal("crypto errors should not be retryable")
	}
	if Retryable(errors.New("plain")) {
		t.Fatal("uncategorized errors should not be retryable")
	}
}
