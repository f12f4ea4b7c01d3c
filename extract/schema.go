// Package extract turns rendered listing pages into validated
// PropertyRecords using an unreliable text-completion backend.
package extract

import (
	"fmt"
	"strings"
)

// Kind is how a field's raw value is coerced.
type Kind int

const (
	KindString Kind = iota
	KindMoney
	KindArea
	KindCount
	KindEnum
	KindList
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindMoney:
		return "number (rupees)"
	case KindArea:
		return "number (square feet)"
	case KindCount:
		return "integer"
	case KindEnum:
		return "enum"
	case KindList:
		return "array of strings"
	case KindDate:
		return "date (YYYY-MM-DD)"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Field describes one key of the backend's JSON answer.
type Field struct {
	Name        string
	Kind        Kind
	Required    bool
	Description string
	// Aliases are other keys the backend is known to use for this field.
	Aliases []string
	// Values are the allowed canonical values of an enum field.
	Values []string
	// Synonyms map a normalised spelling to a canonical enum value.
	Synonyms map[string]string
}

// Schema is the target shape of an extraction. Keys outside it are ignored.
type Schema struct {
	Fields []Field
}

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Instructions renders the schema as prompt text.
func (s *Schema) Instructions() string {
	var b strings.Builder
	b.WriteString("Return a single JSON object with these keys:\n")
	for _, f := range s.Fields {
		fmt.Fprintf(&b, "- %s (%s", f.Name, f.Kind)
		if f.Required {
			b.WriteString(", required")
		}
		b.WriteString(")")
		if len(f.Values) > 0 {
			fmt.Fprintf(&b, " one of: %s.", strings.Join(f.Values, ", "))
		}
		if f.Description != "" {
			b.WriteString(" " + f.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("Use null for values the page does not state. Do not invent values.")
	return b.String()
}

// DefaultSchema is the property listing schema.
func DefaultSchema() *Schema {
	return &Schema{
		Fields: []Field{
			{Name: "title", Kind: KindString, Required: true,
				Description: "Listing headline."},
			{Name: "price", Kind: KindMoney, Required: true,
				Aliases:     []string{"amount", "total_price", "cost"},
				Description: `Total asking price, e.g. "24.5 L" or 2450000.`},
			{Name: "area", Kind: KindArea, Required: true,
				Aliases:     []string{"plot_area", "size", "super_area", "built_up_area", "carpet_area"},
				Description: `Area with its unit, e.g. "200 sq.yd" or "1200 sqft".`},
			{Name: "location", Kind: KindString, Required: true,
				Aliases:     []string{"locality", "address"},
				Description: "Locality and city as written on the page."},
			{Name: "bedroom_count", Kind: KindCount,
				Aliases: []string{"bedrooms", "bhk", "beds"}},
			{Name: "property_type", Kind: KindEnum,
				Aliases: []string{"type"},
				Values:  []string{"plot", "apartment", "villa", "independent_house", "commercial", "agricultural_land", "other"},
				Synonyms: map[string]string{
					"residential_plot":  "plot",
					"land":              "plot",
					"residential_land":  "plot",
					"site":              "plot",
					"flat":              "apartment",
					"builder_floor":     "apartment",
					"penthouse":         "apartment",
					"studio":            "apartment",
					"house":             "independent_house",
					"independent_villa": "villa",
					"farm_house":        "villa",
					"shop":              "commercial",
					"office":            "commercial",
					"office_space":      "commercial",
					"commercial_land":   "commercial",
					"agricultural":      "agricultural_land",
					"farm_land":         "agricultural_land",
				}},
			{Name: "transaction_type", Kind: KindEnum,
				Aliases: []string{"transaction"},
				Values:  []string{"new", "resale"},
				Synonyms: map[string]string{
					"new_booking":     "new",
					"new_property":    "new",
					"primary":         "new",
					"resale_property": "resale",
					"secondary":       "resale",
				}},
			{Name: "ownership_type", Kind: KindEnum,
				Aliases: []string{"ownership"},
				Values:  []string{"freehold", "leasehold", "power_of_attorney", "co_operative_society"},
				Synonyms: map[string]string{
					"poa":                 "power_of_attorney",
					"cooperative_society": "co_operative_society",
					"co_operative":        "co_operative_society",
					"cooperative":         "co_operative_society",
				}},
			{Name: "facing", Kind: KindEnum,
				Values: []string{"north", "south", "east", "west", "north_east", "north_west", "south_east", "south_west"},
				Synonyms: map[string]string{
					"n": "north", "s": "south", "e": "east", "w": "west",
					"ne": "north_east", "nw": "north_west", "se": "south_east", "sw": "south_west",
					"northeast": "north_east", "northwest": "north_west",
					"southeast": "south_east", "southwest": "south_west",
					"east_facing": "east", "west_facing": "west",
					"north_facing": "north", "south_facing": "south",
				}},
			{Name: "description", Kind: KindString,
				Aliases: []string{"descripion", "details"}},
			{Name: "amenities", Kind: KindList,
				Aliases: []string{"features", "facilities"}},
			{Name: "listed_at", Kind: KindDate,
				Aliases:     []string{"posted_on", "posted_date", "listing_date", "date_posted"},
				Description: `When the listing was posted, e.g. "2024-03-01" or "3 days ago".`},
		},
	}
}
