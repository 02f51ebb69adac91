package domain

import (
	"fmt"
	"net/http"
)

// UpstreamStatusError reports a non-success HTTP status from a provider.
type UpstreamStatusError struct {
	Source     string
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d", e.Source, e.StatusCode)
}

// Retryable reports whether the same request may succeed later.
func (e *UpstreamStatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
