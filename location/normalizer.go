package location

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"realestate-crawler/models"
)

// DefaultMaxDistance is the fuzzy edit budget for aliases of five or more
// characters.
const DefaultMaxDistance = 2

// placeholders are raw values that mean "no location".
var placeholders = map[string]bool{
	"":              true,
	"unknown":       true,
	"not available": true,
	"na":            true,
	"n a":           true,
	"none":          true,
	"null":          true,
}

type alias struct {
	compact string
	tokens  int
	node    string
	depth   int
	order   int
}

// Normalizer maps free-text location strings to location keys. It is
// read-only after construction and safe for concurrent use.
type Normalizer struct {
	h           *Hierarchy
	aliases     []alias
	exact       map[string][]int
	maxTokens   int
	maxDistance int
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMaxDistance sets the fuzzy edit budget. Zero disables fuzzy matching.
func WithMaxDistance(d int) Option {
	return func(n *Normalizer) {
		if d >= 0 {
			n.maxDistance = d
		}
	}
}

// NewNormalizer indexes every node's display name, key and aliases.
func NewNormalizer(h *Hierarchy, opts ...Option) *Normalizer {
	n := &Normalizer{
		h:           h,
		exact:       make(map[string][]int),
		maxDistance: DefaultMaxDistance,
	}
	for _, opt := range opts {
		opt(n)
	}

	for _, key := range h.order {
		node := h.nodes[key]
		names := append([]string{node.DisplayName, lastSegment(key)}, node.Aliases...)
		seen := make(map[string]bool, len(names))
		for _, name := range names {
			tokens := tokenize(name)
			if len(tokens) == 0 {
				continue
			}
			compact := strings.Join(tokens, "")
			if seen[compact] {
				continue
			}
			seen[compact] = true

			n.exact[compact] = append(n.exact[compact], len(n.aliases))
			n.aliases = append(n.aliases, alias{
				compact: compact,
				tokens:  len(tokens),
				node:    key,
				depth:   h.depth[key],
				order:   len(n.aliases),
			})
			n.maxTokens = max(n.maxTokens, len(tokens))
		}
	}
	return n
}

// Normalize returns the location key for raw, or an
// *models.UnresolvedLocationError.
func (n *Normalizer) Normalize(raw string) (string, error) {
	node, err := n.Resolve(raw)
	if err != nil {
		return "", err
	}
	return node.Key, nil
}

// Resolve returns the node matched by raw. Exact alias matches on any
// contiguous run of words come first. Fuzzy matches are used when nothing
// matches exactly, or to refine an exact match with a misspelt descendant
// ("Madurawada, Visakhapatnam"). Among candidates the deepest node wins,
// then the one whose ancestors are also named in raw, then the earliest
// alias.
func (n *Normalizer) Resolve(raw string) (*models.LocationNode, error) {
	tokens := tokenize(raw)
	if placeholders[strings.Join(tokens, " ")] {
		return nil, &models.UnresolvedLocationError{Raw: raw}
	}

	if node, ok := n.h.Node(strings.TrimSpace(raw)); ok {
		return node, nil
	}

	grams := ngrams(tokens, n.maxTokens+1)

	var exact []int
	for _, g := range grams {
		exact = append(exact, n.exact[g]...)
	}
	fuzzy := n.fuzzy(grams)

	if len(exact) == 0 {
		closest := closestOf(fuzzy, func(int) bool { return true })
		if len(closest) == 0 {
			return nil, &models.UnresolvedLocationError{Raw: raw}
		}
		return n.pick(closest), nil
	}

	best := n.pick(exact)
	matched := make(map[string]bool, len(exact))
	for _, i := range exact {
		matched[n.aliases[i].node] = true
	}
	refined := closestOf(fuzzy, func(i int) bool {
		a := n.aliases[i]
		if a.depth <= n.h.Depth(best.Key) || matched[a.node] {
			return false
		}
		for _, anc := range n.h.Ancestors(a.node) {
			if matched[anc] {
				return true
			}
		}
		return false
	})
	if len(refined) > 0 {
		return n.pick(append(refined, exact...)), nil
	}
	return best, nil
}

// fuzzy returns, per alias index, the smallest edit distance to any gram
// within that alias's budget.
func (n *Normalizer) fuzzy(grams []string) map[int]int {
	dist := make(map[int]int)
	if n.maxDistance == 0 {
		return dist
	}
	for _, g := range grams {
		gl := utf8.RuneCountInString(g)
		if gl < 4 {
			continue
		}
		for i, a := range n.aliases {
			budget := n.budget(a.compact)
			if budget == 0 || abs(gl-utf8.RuneCountInString(a.compact)) > budget {
				continue
			}
			d := levenshtein.ComputeDistance(g, a.compact)
			if d > budget {
				continue
			}
			if prev, ok := dist[i]; !ok || d < prev {
				dist[i] = d
			}
		}
	}
	return dist
}

// closestOf returns the alias indexes accepted by keep that share the
// smallest distance.
func closestOf(dist map[int]int, keep func(int) bool) []int {
	best := -1
	var out []int
	for i, d := range dist {
		if !keep(i) {
			continue
		}
		switch {
		case best < 0 || d < best:
			best = d
			out = append(out[:0], i)
		case d == best:
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// budget is the edit distance allowed against an alias of this length.
func (n *Normalizer) budget(compact string) int {
	switch l := utf8.RuneCountInString(compact); {
	case l >= 5:
		return n.maxDistance
	case l == 4:
		return min(1, n.maxDistance)
	default:
		return 0
	}
}

func (n *Normalizer) pick(candidates []int) *models.LocationNode {
	matched := make(map[string]bool, len(candidates))
	for _, i := range candidates {
		matched[n.aliases[i].node] = true
	}
	support := func(a alias) int {
		s := 0
		for _, anc := range n.h.Ancestors(a.node) {
			if matched[anc] {
				s++
			}
		}
		return s
	}

	best := candidates[0]
	bestSupport := support(n.aliases[best])
	for _, i := range candidates[1:] {
		a, b := n.aliases[i], n.aliases[best]
		s := support(a)
		switch {
		case a.depth != b.depth:
			if a.depth > b.depth {
				best, bestSupport = i, s
			}
		case s != bestSupport:
			if s > bestSupport {
				best, bestSupport = i, s
			}
		case a.order < b.order:
			best, bestSupport = i, s
		}
	}

	node, _ := n.h.Node(n.aliases[best].node)
	return node
}

// tokenize lowercases s and splits it on anything that is not a letter or
// digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ngrams returns the compact form of every contiguous run of up to maxLen
// tokens.
func ngrams(tokens []string, maxLen int) []string {
	var out []string
	for size := min(maxLen, len(tokens)); size >= 1; size-- {
		for i := 0; i+size <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+size], ""))
		}
	}
	return out
}

func lastSegment(key string) string {
	if i := strings.LastIndexAny(key, "/."); i >= 0 {
		return key[i+1:]
	}
	return key
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
