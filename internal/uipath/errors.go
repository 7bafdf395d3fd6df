package uipath

import "fmt"

// AuthError means the identity server rejected our credentials or token.
// It is fatal for the run; retrying cannot help until credentials change.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("uipath auth failed (status %d): %s", e.Status, e.Body)
}

// APIError is a non-throttling 4xx from the Orchestrator API. The payload
// is kept for diagnosis; the request is never retried.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("uipath request rejected (status %d): %s", e.Status, e.Body)
}

// RateLimitError is surfaced once throttling retries are exhausted.
type RateLimitError struct {
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("uipath rate limit still exceeded after %d attempts", e.Attempts)
}

// errThrottled marks a single throttled response inside the retry loop.
type errThrottled struct{}

func (errThrottled) Error() string { return "throttled (429)" }
