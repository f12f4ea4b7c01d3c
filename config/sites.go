package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SiteConfig describes how one source site is crawled.
type SiteConfig struct {
	Name     string      `yaml:"name"`
	Enabled  bool        `yaml:"enabled"`
	BaseURL  string      `yaml:"base_url"`
	MaxPages int         `yaml:"max_pages"`
	Filters  SiteFilters `yaml:"filters"`
}

// SiteFilters are applied on the site before pagination begins.
type SiteFilters struct {
	Location     string  `yaml:"location"`
	PropertyType string  `yaml:"property_type"`
	MinPrice     float64 `yaml:"min_price"`
	MaxPrice     float64 `yaml:"max_price"`
	SortByDate   bool    `yaml:"sort_by_date"`
}

// SitesFile is the structure of the sites YAML file.
type SitesFile struct {
	Sites []SiteConfig `yaml:"sites"`
}

// LoadSites parses the sites file at path. A missing file yields the
// built-in defaults rather than an error.
func LoadSites(path string) (*SitesFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultSites(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read sites file: %w", err)
	}
	return ParseSites(data)
}

// ParseSites parses sites YAML and fills per-site defaults.
func ParseSites(data []byte) (*SitesFile, error) {
	var f SitesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse sites file: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Sites))
	for i := range f.Sites {
		s := &f.Sites[i]
		if s.Name == "" {
			return nil, fmt.Errorf("config: site #%d has no name", i+1)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("config: site %q listed twice", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.MaxPages <= 0 {
			s.MaxPages = 1
		}
		if s.Filters.MaxPrice > 0 && s.Filters.MinPrice > s.Filters.MaxPrice {
			return nil, fmt.Errorf("config: site %q has min_price above max_price", s.Name)
		}
	}
	return &f, nil
}

// DefaultSites returns the sites crawled when no file is present.
func DefaultSites() *SitesFile {
	return &SitesFile{Sites: []SiteConfig{
		{
			Name:     "housing",
			Enabled:  true,
			MaxPages: 2,
			Filters:  SiteFilters{Location: "Visakhapatnam", PropertyType: "plot", SortByDate: true},
		},
		{
			Name:     "magicbricks",
			Enabled:  true,
			MaxPages: 2,
			Filters:  SiteFilters{Location: "Visakhapatnam", PropertyType: "plot", SortByDate: true},
		},
	}}
}

// Enabled returns the enabled sites, optionally restricted to names.
func (f *SitesFile) Enabled(names ...string) []SiteConfig {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}

	var out []SiteConfig
	for _, s := range f.Sites {
		if len(want) > 0 {
			if _, ok := want[s.Name]; !ok {
				continue
			}
		} else if !s.Enabled {
			continue
		}
		out = append(out, s)
	}
	return out
}
