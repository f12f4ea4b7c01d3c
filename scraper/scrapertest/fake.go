// Package scrapertest provides an in-memory Browser serving canned HTML.
package scrapertest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"realestate-crawler/models"
	"realestate-crawler/scraper"
)

// Browser serves pages registered with SetPage. It is safe for concurrent
// use.
type Browser struct {
	// Latency delays every Navigate.
	Latency time.Duration
	// OpenErr, when set, fails every OpenSession.
	OpenErr error

	mu          sync.Mutex
	pages       map[string]string
	errs        map[string][]error
	navigations []string
	actions     []scraper.FilterAction
	open        int
	maxOpen     int
}

// NewBrowser returns an empty Browser.
func NewBrowser() *Browser {
	return &Browser{pages: make(map[string]string), errs: make(map[string][]error)}
}

// SetPage serves html at url.
func (b *Browser) SetPage(url, html string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[url] = html
}

// FailNext makes the next len(errs) navigations to url fail in order.
func (b *Browser) FailNext(url string, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[url] = append(b.errs[url], errs...)
}

// Navigations returns every URL navigated to, in order.
func (b *Browser) Navigations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.navigations...)
}

// Actions returns every applied filter action, in order.
func (b *Browser) Actions() []scraper.FilterAction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]scraper.FilterAction(nil), b.actions...)
}

// Open returns the number of sessions currently open.
func (b *Browser) Open() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// MaxOpen returns the most sessions that were ever open at once.
func (b *Browser) MaxOpen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxOpen
}

func (b *Browser) OpenSession(ctx context.Context) (scraper.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open++
	b.maxOpen = max(b.maxOpen, b.open)
	return &session{b: b}, nil
}

func (b *Browser) Close() error { return nil }

type session struct {
	b      *Browser
	url    string
	html   string
	closed bool
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if s.b.Latency > 0 {
		t := time.NewTimer(s.b.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.navigations = append(s.b.navigations, url)
	s.url = url
	if queued := s.b.errs[url]; len(queued) > 0 {
		s.b.errs[url] = queued[1:]
		s.html = ""
		return queued[0]
	}
	html, ok := s.b.pages[url]
	if !ok {
		s.html = ""
		return &models.NavigationError{Site: "fake", URL: url, Err: errors.New("status 404")}
	}
	s.html = html
	return nil
}

func (s *session) find(selector string) (*goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.html))
	if err != nil {
		return nil, err
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, &models.NavigationError{Site: "fake", URL: s.url, Selector: selector}
	}
	return sel, nil
}

func (s *session) ApplyFilter(ctx context.Context, a scraper.FilterAction) error {
	if _, err := s.find(a.Selector); err != nil {
		return err
	}
	s.b.mu.Lock()
	s.b.actions = append(s.b.actions, a)
	s.b.mu.Unlock()
	return nil
}

func (s *session) ExtractPageContent(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if selector == "" {
		return s.html, nil
	}
	sel, err := s.find(selector)
	if err != nil {
		return "", err
	}
	return goquery.OuterHtml(sel)
}

func (s *session) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.b.open--
	}
	return nil
}
