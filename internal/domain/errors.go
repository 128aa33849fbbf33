package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is; the concrete cause stays
// reachable through the wrap chain.
var (
	// ErrTransport covers network failures and non-2xx responses.
	ErrTransport = errors.New("transport error")
	// ErrParse covers an index page or tabular payload with an unexpected structure.
	ErrParse = errors.New("parse error")
	// ErrSchema covers a fetched file missing an essential column.
	ErrSchema = errors.New("schema error")
	// ErrCacheMiss is returned when a snapshot was requested but never written.
	ErrCacheMiss = errors.New("cache miss")
	// ErrCacheCorrupt is returned when a snapshot exists but cannot be decoded.
	ErrCacheCorrupt = errors.New("cache corrupt")
	// ErrCacheWrite is returned when a snapshot could not be persisted. The
	// previous snapshot of the same name is left untouched.
	ErrCacheWrite = errors.New("cache write failed")
	// ErrConfig covers invalid run options.
	ErrConfig = errors.New("configuration error")
	// ErrCategoryMismatch is returned when a record of another event type is
	// added to a Dataset.
	ErrCategoryMismatch = errors.New("event type mismatch")
)

// HTTPStatusError describes a non-2xx response from the catalog host.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Body       string // first 512 bytes
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
