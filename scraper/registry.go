package scraper

import (
	"fmt"
	"sort"

	"realestate-crawler/models"
)

// Registry maps site names to hooks.
type Registry struct {
	hooks map[string]SiteHook
}

// NewRegistry registers hooks by Name. A later hook with the same name
// replaces an earlier one.
func NewRegistry(hooks ...SiteHook) *Registry {
	r := &Registry{hooks: make(map[string]SiteHook, len(hooks))}
	for _, h := range hooks {
		r.hooks[h.Name()] = h
	}
	return r
}

// Get returns the hook for name, or an error wrapping models.ErrUnknownSite.
func (r *Registry) Get(name string) (SiteHook, error) {
	h, ok := r.hooks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownSite, name)
	}
	return h, nil
}

// Names returns registered site names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.hooks))
	for name := range r.hooks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
