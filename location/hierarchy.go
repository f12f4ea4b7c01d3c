// Package location resolves free-text addresses to canonical location keys.
package location

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"realestate-crawler/models"
)

// Hierarchy is a validated forest of location nodes.
type Hierarchy struct {
	nodes map[string]*models.LocationNode
	order []string
	depth map[string]int
}

type locationsFile struct {
	Locations []models.LocationNode `yaml:"locations"`
}

// LoadFile reads a locations YAML file.
func LoadFile(path string) (*Hierarchy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("location: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes locations YAML into a Hierarchy.
func Parse(data []byte) (*Hierarchy, error) {
	var f locationsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("location: parse: %w", err)
	}
	return NewHierarchy(f.Locations)
}

// NewHierarchy validates nodes and builds a Hierarchy. Every parent must
// exist and parent links must not form a cycle. Node order is kept as the
// alias insertion order for tie-breaks.
func NewHierarchy(nodes []models.LocationNode) (*Hierarchy, error) {
	h := &Hierarchy{
		nodes: make(map[string]*models.LocationNode, len(nodes)),
		depth: make(map[string]int, len(nodes)),
	}

	for i := range nodes {
		n := nodes[i]
		if n.Key == "" {
			return nil, fmt.Errorf("location: node #%d has no key", i+1)
		}
		if _, dup := h.nodes[n.Key]; dup {
			return nil, fmt.Errorf("location: duplicate key %q", n.Key)
		}
		switch n.Level {
		case "", models.LevelCity, models.LevelLocality, models.LevelArea:
		default:
			return nil, fmt.Errorf("location: %q has unknown level %q", n.Key, n.Level)
		}
		if n.DisplayName == "" {
			n.DisplayName = n.Key
		}
		n.Aliases = append([]string(nil), n.Aliases...)
		h.nodes[n.Key] = &n
		h.order = append(h.order, n.Key)
	}

	for _, key := range h.order {
		d, err := h.computeDepth(key)
		if err != nil {
			return nil, err
		}
		h.depth[key] = d
	}
	return h, nil
}

func (h *Hierarchy) computeDepth(key string) (int, error) {
	seen := map[string]bool{key: true}
	d := 0
	for cur := h.nodes[key]; cur.ParentKey != ""; d++ {
		parent, ok := h.nodes[cur.ParentKey]
		if !ok {
			return 0, fmt.Errorf("location: %q references missing parent %q", cur.Key, cur.ParentKey)
		}
		if seen[parent.Key] {
			return 0, fmt.Errorf("location: cycle through %q", key)
		}
		seen[parent.Key] = true
		cur = parent
	}
	return d, nil
}

// Len returns the number of nodes.
func (h *Hierarchy) Len() int { return len(h.order) }

// Has reports whether key names a node.
func (h *Hierarchy) Has(key string) bool {
	_, ok := h.nodes[key]
	return ok
}

// Node returns a copy of the node for key with coordinates inherited from
// the nearest ancestor that has them.
func (h *Hierarchy) Node(key string) (*models.LocationNode, bool) {
	n, ok := h.nodes[key]
	if !ok {
		return nil, false
	}
	out := *n
	out.Aliases = append([]string(nil), n.Aliases...)
	if c := h.coordinates(key); c != nil {
		cc := *c
		out.Coordinates = &cc
	}
	return &out, true
}

// Depth returns how many ancestors key has. Roots are depth 0.
func (h *Hierarchy) Depth(key string) int { return h.depth[key] }

// Ancestors returns the parent chain of key, nearest first.
func (h *Hierarchy) Ancestors(key string) []string {
	var out []string
	n, ok := h.nodes[key]
	for ok && n.ParentKey != "" {
		out = append(out, n.ParentKey)
		n, ok = h.nodes[n.ParentKey]
	}
	return out
}

// Keys returns node keys in file order.
func (h *Hierarchy) Keys() []string {
	return append([]string(nil), h.order...)
}

func (h *Hierarchy) coordinates(key string) *models.Coordinates {
	for n, ok := h.nodes[key]; ok; n, ok = h.nodes[n.ParentKey] {
		if n.Coordinates != nil {
			return n.Coordinates
		}
		if n.ParentKey == "" {
			break
		}
	}
	return nil
}
