package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"realestate-crawler/models"
)

// Decode parses a backend response against schema. It returns a record only
// when there are no issues; otherwise the issues say what to repair.
// fetchedAt anchors relative dates such as "yesterday".
func Decode(response string, schema *Schema, fetchedAt time.Time) (models.PropertyRecord, []models.ValidationIssue) {
	obj, err := parseObject(response)
	if err != nil {
		return models.PropertyRecord{}, []models.ValidationIssue{{Message: err.Error()}}
	}

	var (
		rec    = models.PropertyRecord{Currency: models.CurrencyINR, AreaUnit: models.AreaUnitSqFt, Amenities: []string{}}
		issues []models.ValidationIssue
	)
	for _, f := range schema.Fields {
		v, ok := lookup(obj, f)
		if !ok || isMissing(v) {
			if f.Required {
				issues = append(issues, models.ValidationIssue{Field: f.Name, Message: "is required"})
			}
			continue
		}
		if err := assign(&rec, f, v, fetchedAt); err != nil {
			issues = append(issues, models.ValidationIssue{Field: f.Name, Message: err.Error()})
		}
	}
	if len(issues) > 0 {
		return models.PropertyRecord{}, issues
	}

	if rec.Area > 0 {
		rec.PricePerArea = round2(rec.Price / rec.Area)
	}
	return rec, nil
}

// parseObject finds the JSON object in a response that may be fenced or
// wrapped in prose, and unwraps a top-level "properties" envelope.
func parseObject(response string) (map[string]any, error) {
	s := strings.TrimSpace(response)
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("response contains no JSON object")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %v", err)
	}
	obj = normaliseKeys(obj)

	if len(obj) == 1 {
		for _, k := range []string{"properties", "property", "listing"} {
			switch inner := obj[k].(type) {
			case map[string]any:
				return normaliseKeys(inner), nil
			case []any:
				if len(inner) == 0 {
					return nil, fmt.Errorf("%s list is empty", k)
				}
				if first, ok := inner[0].(map[string]any); ok {
					return normaliseKeys(first), nil
				}
			}
		}
	}
	return obj, nil
}

// normaliseKeys lowercases keys and joins words with underscores, so that
// "Plot Area" and "plotArea" both become "plot_area".
func normaliseKeys(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[normaliseKey(k)] = v
	}
	return out
}

func normaliseKey(k string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range strings.TrimSpace(k) {
		switch {
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevLower = true
		default:
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
			prevLower = false
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// lookup returns the field's value by name or alias, unwrapping
// {"value": x} and {"amount": x} envelopes.
func lookup(obj map[string]any, f Field) (any, bool) {
	for _, name := range append([]string{f.Name}, f.Aliases...) {
		v, ok := obj[name]
		if !ok {
			continue
		}
		if inner, isObj := v.(map[string]any); isObj {
			inner = normaliseKeys(inner)
			for _, k := range []string{"value", "amount"} {
				if x, found := inner[k]; found {
					v = x
					break
				}
			}
		}
		return v, true
	}
	return nil, false
}

func assign(rec *models.PropertyRecord, f Field, v any, fetchedAt time.Time) error {
	switch f.Kind {
	case KindString:
		s, err := toString(v)
		if err != nil {
			return err
		}
		switch f.Name {
		case "title":
			rec.Title = s
		case "location":
			rec.LocationRaw = s
		case "description":
			rec.Description = s
		}

	case KindMoney:
		n, err := parseMoney(v)
		if err != nil {
			return err
		}
		rec.Price = n

	case KindArea:
		n, err := parseArea(v)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("must be greater than zero")
		}
		rec.Area = n

	case KindCount:
		n, err := parseCount(v)
		if err != nil {
			return err
		}
		rec.BedroomCount = &n

	case KindEnum:
		s, err := toString(v)
		if err != nil {
			return err
		}
		canon, err := enumValue(f, s)
		if err != nil {
			return err
		}
		switch f.Name {
		case "property_type":
			rec.PropertyType = canon
		case "transaction_type":
			rec.TransactionType = canon
		case "ownership_type":
			rec.OwnershipType = canon
		case "facing":
			rec.Facing = canon
		}

	case KindList:
		items, err := parseList(v)
		if err != nil {
			return err
		}
		rec.Amenities = items

	case KindDate:
		t, err := parseDate(v, fetchedAt)
		if err != nil {
			return err
		}
		rec.ListedAt = &t
	}
	return nil
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return normaliseText(t), nil
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%.2f", t), ".00"), nil
	}
	return "", fmt.Errorf("expected a string, got %T", v)
}

// enumValue maps s onto one of f.Values, directly or through f.Synonyms.
func enumValue(f Field, s string) (string, error) {
	key := normaliseKey(strings.ToLower(s))
	for _, allowed := range f.Values {
		if key == allowed {
			return allowed, nil
		}
	}
	if canon, ok := f.Synonyms[key]; ok {
		return canon, nil
	}
	return "", fmt.Errorf("%q is not one of %s", s, strings.Join(f.Values, ", "))
}
