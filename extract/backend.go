package extract

import (
	"context"

	"realestate-crawler/models"
)

// Request is one submission to an extraction backend. Previous and Issues
// are set on repair attempts.
type Request struct {
	Content  string
	URL      string
	Schema   *Schema
	Previous string
	Issues   []models.ValidationIssue
}

// Repair reports whether this request asks the backend to fix an earlier
// answer.
func (r Request) Repair() bool {
	return len(r.Issues) > 0
}

// Backend turns page content into a proposed JSON answer. The answer is
// untrusted text; Backend implementations never validate it.
type Backend interface {
	Submit(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

func (f BackendFunc) Submit(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// FailureSink keeps pages that could not be extracted.
type FailureSink interface {
	Write(f models.FailedExtraction) error
}
