package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBudgetExceeded is returned when the daily provider call budget is
// exhausted. It is never retried but remains eligible for local fallback.
var ErrBudgetExceeded = errors.New("llm daily call budget exceeded")

// ProviderError normalizes provider failures with enough classification
// for the retry and fallback policy
type ProviderError struct {
	Provider string
	Status   int    // HTTP-class status when known, 0 otherwise
	Raw      string // Raw provider diagnostic payload, may be empty
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s request failed: %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error is a rate-limit or overload class
// failure expected to resolve on retry
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Status == 429 || pe.Status == 503 || pe.Status == 529 {
			return true
		}
	}
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "503")
}

// IsAuthOrModel reports whether the error indicates misconfiguration
// (bad key, bad model, malformed request) that retrying cannot fix
func IsAuthOrModel(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Status {
		case 400, 401, 403, 404:
			return true
		}
	}
	return false
}

// statusFromError best-effort extracts an HTTP status code from an SDK
// error message when no structured status is available
func statusFromError(err error) int {
	if err == nil {
		return 0
	}
	msg := err.Error()
	for _, code := range []int{429, 503, 529, 400, 401, 403, 404, 500} {
		if strings.Contains(msg, fmt.Sprintf(" %d", code)) ||
			strings.Contains(msg, fmt.Sprintf("%d:", code)) ||
			strings.HasPrefix(msg, fmt.Sprintf("%d", code)) {
			return code
		}
	}
	if strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		return 429
	}
	return 0
}

// rawFromError surfaces any raw diagnostic payload attached to a provider
// error so the orchestrator can persist it
func rawFromError(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Raw
	}
	return ""
}
