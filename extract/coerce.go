package extract

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	// amountRegexp captures a sign, a number and an optional Indian magnitude
	// suffix.
	amountRegexp = regexp.MustCompile(`([-−]\s*)?(\d+(?:\.\d+)?)\s*(crores?|cr|lakhs?|lacs?|lac|l|thousand|k)?\b`)
	// areaRegexp captures a sign, a number and the unit text that follows it.
	areaRegexp = regexp.MustCompile(`([-−]\s*)?(\d+(?:\.\d+)?)\s*([a-z.²\s]*)`)
	// countRegexp captures the first integer, e.g. "3 BHK".
	countRegexp = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	// agoRegexp captures relative dates such as "3 days ago".
	agoRegexp = regexp.MustCompile(`(\d+)\s*(day|week|month)s?\s+ago`)
)

var magnitudes = map[string]float64{
	"":         1,
	"k":        1e3,
	"thousand": 1e3,
	"l":        1e5,
	"lac":      1e5,
	"lacs":     1e5,
	"lakh":     1e5,
	"lakhs":    1e5,
	"cr":       1e7,
	"crore":    1e7,
	"crores":   1e7,
}

// areaUnits maps a compacted unit spelling to square feet per unit.
var areaUnits = map[string]float64{
	"sqft": 1, "sqfeet": 1, "squarefeet": 1, "squarefoot": 1, "ft²": 1, "sft": 1,
	"sqyd": 9, "sqyds": 9, "sqyard": 9, "sqyards": 9, "squareyard": 9, "squareyards": 9, "gaj": 9, "gaz": 9, "yd²": 9,
	"sqm": 10.7639, "sqmt": 10.7639, "sqmtr": 10.7639, "sqmeter": 10.7639, "sqmeters": 10.7639, "sqmetre": 10.7639,
	"squaremeter": 10.7639, "squaremeters": 10.7639, "squaremetre": 10.7639, "m²": 10.7639,
	"acre": 43560, "acres": 43560,
	"cent": 435.6, "cents": 435.6,
	"hectare": 107639, "hectares": 107639,
	"guntha": 1089, "gunthas": 1089, "gunta": 1089,
	"ankanam": 72, "ankanams": 72,
}

// missingValues are placeholders that mean the source had no value.
var missingValues = map[string]bool{
	"":              true,
	"not available": true,
	"not mentioned": true,
	"not specified": true,
	"n/a":           true,
	"na":            true,
	"none":          true,
	"null":          true,
	"unknown":       true,
	"-":             true,
}

// isMissing reports whether v carries no usable value.
func isMissing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return missingValues[strings.ToLower(normaliseText(t))]
	case []any:
		return len(t) == 0
	}
	return false
}

// parseMoney converts a price such as "24.0 L", "₹45,00,000", "Rs. 1.2 Cr"
// or "24 - 30 Lac" to rupees. Ranges resolve to their lower bound.
func parseMoney(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return nonNegative(t)
	case string:
		s := strings.ToLower(normaliseText(t))
		s = strings.NewReplacer("₹", " ", "rs.", " ", "rs", " ", "inr", " ", ",", "").Replace(s)

		matches := amountRegexp.FindAllStringSubmatch(s, -1)
		if len(matches) == 0 {
			return 0, fmt.Errorf("no amount in %q", t)
		}
		if matches[0][1] != "" {
			return 0, fmt.Errorf("must not be negative")
		}
		n, err := strconv.ParseFloat(matches[0][2], 64)
		if err != nil {
			return 0, fmt.Errorf("bad amount %q", matches[0][2])
		}
		unit := matches[0][3]
		if unit == "" {
			// "24 - 30 L": the range shares its trailing unit.
			for _, m := range matches[1:] {
				if m[3] != "" {
					unit = m[3]
					break
				}
			}
		}
		return round2(n * magnitudes[unit]), nil
	}
	return 0, fmt.Errorf("expected a number or string, got %T", v)
}

// parseArea converts an area such as "200 sq.yd", "1 acre" or "1,800 sqft" to
// square feet. A bare number is taken as square feet.
func parseArea(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return nonNegative(t)
	case string:
		s := strings.ReplaceAll(strings.ToLower(normaliseText(t)), ",", "")

		m := areaRegexp.FindStringSubmatch(s)
		if m == nil {
			return 0, fmt.Errorf("no area in %q", t)
		}
		if m[1] != "" {
			return 0, fmt.Errorf("must not be negative")
		}
		n, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return 0, fmt.Errorf("bad area %q", m[2])
		}
		unit := compactUnit(m[3])
		if unit == "" {
			return round2(n), nil
		}
		for _, candidate := range unitPrefixes(unit) {
			if factor, ok := areaUnits[candidate]; ok {
				return round2(n * factor), nil
			}
		}
		return 0, fmt.Errorf("unknown area unit %q", strings.TrimSpace(m[3]))
	}
	return 0, fmt.Errorf("expected a number or string, got %T", v)
}

// compactUnit strips dots and spaces: "sq. yd" -> "sqyd".
func compactUnit(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '.' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// unitPrefixes returns u and its shorter prefixes, longest first, so that
// trailing words ("sqyd plot") do not defeat the lookup.
func unitPrefixes(u string) []string {
	r := []rune(u)
	out := make([]string, 0, len(r))
	for i := len(r); i >= 2; i-- {
		out = append(out, string(r[:i]))
	}
	return out
}

// parseCount reads a non-negative whole number such as 3 or "3 BHK".
func parseCount(v any) (int, error) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		m := countRegexp.FindString(t)
		if m == "" {
			return 0, fmt.Errorf("no number in %q", t)
		}
		var err error
		if f, err = strconv.ParseFloat(m, 64); err != nil {
			return 0, fmt.Errorf("bad number %q", m)
		}
	default:
		return 0, fmt.Errorf("expected a number or string, got %T", v)
	}
	if f < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("must be a whole number")
	}
	return int(f), nil
}

// parseList accepts a JSON array or a delimited string and returns a sorted
// set, compared case-insensitively.
func parseList(v any) ([]string, error) {
	var items []string
	switch t := v.(type) {
	case []any:
		for _, it := range t {
			s, ok := it.(string)
			if !ok {
				return nil, fmt.Errorf("expected strings, got %T", it)
			}
			items = append(items, s)
		}
	case string:
		items = strings.FieldsFunc(t, func(r rune) bool {
			return r == ',' || r == ';' || r == '|' || r == '\n' || r == '•'
		})
	default:
		return nil, fmt.Errorf("expected a list or string, got %T", v)
	}

	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.Trim(normaliseText(it), "-* ")
		key := strings.ToLower(it)
		if it == "" || seen[key] || missingValues[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out, nil
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"02 Jan 2006",
	"2 Jan 2006",
	"02 January 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"Jan 02, '06",
	"Jan 2, '06",
}

// parseDate reads absolute dates in common listing formats and relative
// ones ("today", "3 days ago") against ref.
func parseDate(v any, ref time.Time) (time.Time, error) {
	raw, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected a string, got %T", v)
	}
	s := normaliseText(raw)
	lower := strings.ToLower(s)
	for _, p := range []string{"posted on", "posted", "listed on", "updated on"} {
		if strings.HasPrefix(lower, p) {
			s = strings.TrimSpace(s[len(p):])
			lower = strings.ToLower(s)
			break
		}
	}

	day := ref.UTC().Truncate(24 * time.Hour)
	switch lower {
	case "today", "just now":
		return day, nil
	case "yesterday":
		return day.AddDate(0, 0, -1), nil
	}
	if m := agoRegexp.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "day":
			return day.AddDate(0, 0, -n), nil
		case "week":
			return day.AddDate(0, 0, -7*n), nil
		case "month":
			return day.AddDate(0, -n, 0), nil
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

func nonNegative(f float64) (float64, error) {
	if f < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("must be finite")
	}
	return round2(f), nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
