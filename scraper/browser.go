// Package scraper holds the browser capability the crawler drives and the
// SiteHook contract each listing site implements.
package scraper

import "context"

// FilterAction is one in-page interaction used to apply search filters: a
// click on Selector, or typing Value into it when Value is set. WaitFor, if
// set, must appear before the action counts as done.
type FilterAction struct {
	Selector string
	Value    string
	WaitFor  string
}

// Session is one browser tab. Sessions are not safe for concurrent use.
//
// Implementations report a missing selector as *models.NavigationError and
// source throttling as *models.RateLimitedError.
type Session interface {
	Navigate(ctx context.Context, url string) error
	ApplyFilter(ctx context.Context, action FilterAction) error
	// ExtractPageContent returns the outer HTML of the first element
	// matching selector, or of the whole document when selector is empty.
	ExtractPageContent(ctx context.Context, selector string) (string, error)
	Close() error
}

// Browser opens sessions.
type Browser interface {
	OpenSession(ctx context.Context) (Session, error)
	Close() error
}
