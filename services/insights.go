package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"realestate-crawler/models"
	"realestate-crawler/utils"
)

// SiteStats summarises one source site.
type SiteStats struct {
	Records     int
	LastUpdated string
}

// InsightReport summarises the processed record store.
type InsightReport struct {
	TotalRecords int
	Sites        map[string]SiteStats

	MinPrice        float64
	MaxPrice        float64
	AveragePrice    float64
	AvgPricePerArea float64
	MostExpensive   *models.PropertyRecord
	ByLocation      map[string]int
	Uncategorised   int
	ByPropertyType  map[string]int
	RecentlyListed  []models.PropertyRecord
	LastUpdated     string
}

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(records []models.PropertyRecord) *InsightReport {
	report := &InsightReport{
		Sites:          make(map[string]SiteStats),
		ByLocation:     make(map[string]int),
		ByPropertyType: make(map[string]int),
	}

	if len(records) == 0 {
		return report
	}

	report.TotalRecords = len(records)

	var priced []models.PropertyRecord
	var listed []models.PropertyRecord
	var perAreaTotal float64
	var perAreaCount int

	for _, r := range records {
		site := report.Sites[r.Site]
		site.Records++
		if r.ScrapedDate > site.LastUpdated {
			site.LastUpdated = r.ScrapedDate
		}
		report.Sites[r.Site] = site
		if r.ScrapedDate > report.LastUpdated {
			report.LastUpdated = r.ScrapedDate
		}

		if r.Price > 0 {
			priced = append(priced, r)
		}
		if r.PricePerArea > 0 {
			perAreaTotal += r.PricePerArea
			perAreaCount++
		}
		if r.ListedAt != nil {
			listed = append(listed, r)
		}
		if r.LocationKey == nil {
			report.Uncategorised++
		} else {
			report.ByLocation[*r.LocationKey]++
		}
		if r.PropertyType != "" {
			report.ByPropertyType[r.PropertyType]++
		}
	}

	// Price stats (only records with price > 0)
	if len(priced) > 0 {
		report.MinPrice = priced[0].Price
		report.MaxPrice = priced[0].Price
		report.MostExpensive = &priced[0]
		var total float64
		for i, r := range priced {
			total += r.Price
			if r.Price < report.MinPrice {
				report.MinPrice = r.Price
			}
			if r.Price > report.MaxPrice {
				report.MaxPrice = r.Price
				report.MostExpensive = &priced[i]
			}
		}
		report.AveragePrice = round2(total / float64(len(priced)))
	}
	if perAreaCount > 0 {
		report.AvgPricePerArea = round2(perAreaTotal / float64(perAreaCount))
	}

	// Five most recently listed
	sort.SliceStable(listed, func(i, j int) bool {
		return listed[i].ListedAt.After(*listed[j].ListedAt)
	})
	if len(listed) > 5 {
		report.RecentlyListed = listed[:5]
	} else {
		report.RecentlyListed = listed
	}

	return report
}

// Print writes the report to stdout.
func (s *InsightService) Print(r *InsightReport) {
	s.Fprint(os.Stdout, r)
}

func (s *InsightService) Fprint(w io.Writer, r *InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 PROPERTY STORE INSIGHTS\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Total records   : \033[1m%d\033[0m\n", r.TotalRecords)
	fmt.Fprintf(w, "  Last updated    : \033[1m%s\033[0m\n", orDash(r.LastUpdated))
	sites := make([]string, 0, len(r.Sites))
	for name := range r.Sites {
		sites = append(sites, name)
	}
	sort.Strings(sites)
	for _, name := range sites {
		st := r.Sites[name]
		fmt.Fprintf(w, "  %-15s : \033[1m%d\033[0m (last %s)\n", name, st.Records, orDash(st.LastUpdated))
	}
	fmt.Fprintln(w)

	// Price Stats
	fmt.Fprintf(w, "\033[1;33m  Price Statistics (INR)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Fprintf(w, "  Average price : \033[1;32m₹%s\033[0m\n", formatINR(r.AveragePrice))
		fmt.Fprintf(w, "  Minimum price : \033[1;32m₹%s\033[0m\n", formatINR(r.MinPrice))
		fmt.Fprintf(w, "  Maximum price : \033[1;32m₹%s\033[0m\n", formatINR(r.MaxPrice))
		if r.AvgPricePerArea > 0 {
			fmt.Fprintf(w, "  Avg per sqft  : \033[1;32m₹%.2f\033[0m\n", r.AvgPricePerArea)
		}
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	// Most Expensive
	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s\n", truncate(r.MostExpensive.Title, 50))
		fmt.Fprintf(w, "  Location : %s\n", r.MostExpensive.LocationRaw)
		fmt.Fprintf(w, "  Price    : \033[1;31m₹%s\033[0m\n", formatINR(r.MostExpensive.Price))
		fmt.Fprintln(w)
	}

	// ── RECENTLY LISTED ──────────────────────────────────────────────────
	fmt.Fprintf(w, "\033[1;33m  Recently Listed\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.RecentlyListed) == 0 {
		fmt.Fprintf(w, "  No listing dates found\n")
	} else {
		for i, l := range r.RecentlyListed {
			fmt.Fprintf(w, "  \033[1m%d.\033[0m %-40s \033[1;32m%s\033[0m\n",
				i+1, truncate(l.Title, 38), l.ListedAt.Format(models.DateLayoutDate))
		}
	}
	fmt.Fprintln(w)

	// Listings by Location
	fmt.Fprintf(w, "\033[1;33m  Records by Location\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.ByLocation) == 0 && r.Uncategorised == 0 {
		fmt.Fprintf(w, "  No location data\n")
	} else {
		for _, lc := range sortedCounts(r.ByLocation) {
			bar := strings.Repeat("█", min(lc.count, 40))
			fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(lc.key, 28), bar, lc.count)
		}
		if r.Uncategorised > 0 {
			fmt.Fprintf(w, "  %-30s %s (%d)\n", "(uncategorised)", strings.Repeat("░", min(r.Uncategorised, 40)), r.Uncategorised)
		}
	}

	if len(r.ByPropertyType) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "\033[1;33m  Records by Property Type\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		for _, tc := range sortedCounts(r.ByPropertyType) {
			fmt.Fprintf(w, "  %-30s %d\n", tc.key, tc.count)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

type keyCount struct {
	key   string
	count int
}

// sortedCounts orders by count descending, then key.
func sortedCounts(m map[string]int) []keyCount {
	out := make([]keyCount, 0, len(m))
	for k, n := range m {
		out = append(out, keyCount{k, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	return out
}

// formatINR renders rupees in lakh/crore shorthand.
func formatINR(v float64) string {
	switch {
	case v >= 1e7:
		return fmt.Sprintf("%.2f Cr", v/1e7)
	case v >= 1e5:
		return fmt.Sprintf("%.2f L", v/1e5)
	}
	return fmt.Sprintf("%.2f", v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}
