package scraper

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"realestate-crawler/models"
)

// Filters narrow a site search. They are applied before pagination begins.
type Filters struct {
	Location     string
	PropertyType string
	MinPrice     int64
	MaxPrice     int64
	SortByDate   bool
	// MaxPages stops discovery after this many result pages. Zero means no
	// limit.
	MaxPages int
}

// Cursor is a restartable position in a site's result pages.
type Cursor struct {
	Page int
	URL  string
}

// Discovered is one listing found during discovery. Cursor resumes at the
// result page it was found on.
type Discovered struct {
	ID     string
	URL    string
	Cursor Cursor
}

// SiteHook adapts one listing site. Hooks are stateless apart from caches
// and may be used from several goroutines, each with its own Session.
type SiteHook interface {
	Name() string
	// DiscoverListingIDs lazily yields listing ids page by page, starting at
	// cursor. A yielded error ends the sequence.
	DiscoverListingIDs(ctx context.Context, sess Session, f Filters, cursor Cursor) iter.Seq2[Discovered, error]
	FetchListing(ctx context.Context, sess Session, id string) (models.RawPage, error)
}

// SiteSpec describes a paginated search site in terms of URLs and CSS
// selectors.
type SiteSpec struct {
	Name string
	// SearchURL builds the result page URL for page (1-based).
	SearchURL func(f Filters, page int) string
	// Setup applies in-page filters after each result page loads.
	Setup func(f Filters) []FilterAction
	// ResultsSelector must be present on a result page.
	ResultsSelector string
	// LinkSelector matches anchors to listing pages.
	LinkSelector string
	IDFromURL    func(u *url.URL) (string, bool)
	ListingURL   func(id string) string
	// DetailSelector is the content root of a listing page.
	DetailSelector string
	// NextSelector, when set, follows a "next" link instead of counting
	// pages with SearchURL.
	NextSelector string
}

// PagedHook implements SiteHook from a SiteSpec.
type PagedHook struct {
	spec SiteSpec
	urls sync.Map // id -> listing URL seen during discovery
	now  func() time.Time
}

// NewPagedHook creates a hook for spec.
func NewPagedHook(spec SiteSpec) *PagedHook {
	return &PagedHook{spec: spec, now: time.Now}
}

// Name returns the site name.
func (h *PagedHook) Name() string { return h.spec.Name }

// SetClock replaces time.Now for fetched-at stamps.
func (h *PagedHook) SetClock(now func() time.Time) { h.now = now }

// DiscoverListingIDs walks result pages until one is empty, there is no next
// link, or Filters.MaxPages is reached.
func (h *PagedHook) DiscoverListingIDs(ctx context.Context, sess Session, f Filters, cursor Cursor) iter.Seq2[Discovered, error] {
	return func(yield func(Discovered, error) bool) {
		page := max(cursor.Page, 1)
		pageURL := cursor.URL
		if pageURL == "" {
			pageURL = h.spec.SearchURL(f, page)
		}

		for f.MaxPages <= 0 || page <= f.MaxPages {
			if err := ctx.Err(); err != nil {
				yield(Discovered{}, err)
				return
			}

			links, next, err := h.resultPage(ctx, sess, f, pageURL)
			if err != nil {
				yield(Discovered{}, err)
				return
			}
			if len(links) == 0 {
				return
			}

			here := Cursor{Page: page, URL: pageURL}
			for _, l := range links {
				h.urls.Store(l.ID, l.URL)
				l.Cursor = here
				if !yield(l, nil) {
					return
				}
			}

			page++
			if h.spec.NextSelector != "" {
				if next == "" {
					return
				}
				pageURL = next
			} else {
				pageURL = h.spec.SearchURL(f, page)
			}
		}
	}
}

func (h *PagedHook) resultPage(ctx context.Context, sess Session, f Filters, pageURL string) ([]Discovered, string, error) {
	if err := sess.Navigate(ctx, pageURL); err != nil {
		return nil, "", err
	}
	if h.spec.Setup != nil {
		for _, a := range h.spec.Setup(f) {
			if err := sess.ApplyFilter(ctx, a); err != nil {
				return nil, "", err
			}
		}
	}
	raw, err := sess.ExtractPageContent(ctx, h.spec.ResultsSelector)
	if err != nil {
		return nil, "", err
	}
	return h.parseResults(raw, pageURL)
}

// parseResults pulls listing links and the next-page link out of a result
// page, resolving them against base.
func (h *PagedHook) parseResults(raw, base string) ([]Discovered, string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, "", fmt.Errorf("%s: bad page url %q: %w", h.spec.Name, base, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%s: parse results: %w", h.spec.Name, err)
	}

	seen := make(map[string]bool)
	var out []Discovered
	doc.Find(h.spec.LinkSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		u, err := baseURL.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		id, ok := h.spec.IDFromURL(u)
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		u.Fragment = ""
		out = append(out, Discovered{ID: id, URL: u.String()})
	})

	var next string
	if h.spec.NextSelector != "" {
		if href, ok := doc.Find(h.spec.NextSelector).First().Attr("href"); ok {
			if u, err := baseURL.Parse(href); err == nil && u.String() != base {
				next = u.String()
			}
		}
	}
	return out, next, nil
}

// FetchListing loads a listing page and renders its content root to text.
func (h *PagedHook) FetchListing(ctx context.Context, sess Session, id string) (models.RawPage, error) {
	listingURL := h.spec.ListingURL(id)
	if v, ok := h.urls.Load(id); ok {
		listingURL = v.(string)
	}

	if err := sess.Navigate(ctx, listingURL); err != nil {
		return models.RawPage{}, err
	}
	raw, err := sess.ExtractPageContent(ctx, h.spec.DetailSelector)
	if err != nil {
		return models.RawPage{}, err
	}
	text, err := RenderText(raw)
	if err != nil {
		return models.RawPage{}, err
	}
	if text == "" {
		return models.RawPage{}, &models.NavigationError{
			Site: h.spec.Name, URL: listingURL, Selector: h.spec.DetailSelector,
			Err: fmt.Errorf("listing page has no text"),
		}
	}
	return models.NewRawPage(h.spec.Name, id, listingURL, text, h.now()), nil
}

// Slug lowercases s and joins its words with hyphens: "Navi Mumbai" becomes
// "navi-mumbai".
func Slug(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), "-")
}
