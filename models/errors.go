package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoSession indicates no browser session could be acquired at all.
	// This is the only run-fatal crawl condition.
	ErrNoSession = errors.New("no browser session available")

	// ErrUnknownSite indicates a site name with no registered hook.
	ErrUnknownSite = errors.New("unknown site")
)

// NavigationError reports that the expected page structure was absent,
// usually because the source changed its layout.
type NavigationError struct {
	Site     string
	URL      string
	Selector string
	Err      error
}

func (e *NavigationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "navigation failed on %s", e.Site)
	if e.URL != "" {
		fmt.Fprintf(&b, " (%s)", e.URL)
	}
	if e.Selector != "" {
		fmt.Fprintf(&b, ": selector %q not found", e.Selector)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *NavigationError) Unwrap() error { return e.Err }

// RateLimitedError reports that a source or backend is throttling us.
// RetryAfter is zero when the source gave no hint.
type RateLimitedError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by %s (retry after %v)", e.Source, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited by %s", e.Source)
}

// ValidationIssue is one schema violation found in a backend response.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationIssue) String() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// SchemaViolationError reports that the extraction backend could not produce
// a valid record within the repair budget.
type SchemaViolationError struct {
	ContentHash  string
	Attempts     int
	Issues       []ValidationIssue
	LastResponse string
	// Responses holds every backend answer, oldest first.
	Responses []string
}

func (e *SchemaViolationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.String())
	}
	return fmt.Sprintf("schema violation after %d attempts for %s: %s",
		e.Attempts, shortHash(e.ContentHash), strings.Join(parts, "; "))
}

// UnresolvedLocationError reports a location string that matched no node.
// It is never fatal: the record keeps LocationRaw with a nil LocationKey.
type UnresolvedLocationError struct {
	Raw string
}

func (e *UnresolvedLocationError) Error() string {
	return fmt.Sprintf("unresolved location %q", e.Raw)
}

// CacheComputeError wraps a failure inside a shared GetOrCompute. Every
// waiter on the same key receives the same error.
type CacheComputeError struct {
	ContentHash      string
	ExtractorVersion string
	Err              error
}

func (e *CacheComputeError) Error() string {
	return fmt.Sprintf("cache compute %s@%s: %v", shortHash(e.ContentHash), e.ExtractorVersion, e.Err)
}

func (e *CacheComputeError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err carries a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// IsNavigation reports whether err carries a NavigationError.
func IsNavigation(err error) bool {
	var nav *NavigationError
	return errors.As(err, &nav)
}

// RetryAfter returns the throttling hint carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
