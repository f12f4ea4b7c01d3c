package housing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realestate-crawler/scraper"
	"realestate-crawler/scraper/scrapertest"
)

func TestSearchURL(t *testing.T) {
	spec := Spec("")
	f := scraper.Filters{Location: "Visakhapatnam", PropertyType: "plot", MaxPrice: 5000000, SortByDate: true}

	assert.Equal(t,
		"https://housing.com/in/buy/searches/visakhapatnam?max_price=5000000&property_type=plot&sort=date_added",
		spec.SearchURL(f, 1))
	assert.Contains(t, spec.SearchURL(f, 3), "page=3")
	assert.Equal(t, "https://housing.com/in/buy/searches/pune", spec.SearchURL(scraper.Filters{Location: "Pune", PropertyType: "castle"}, 1))
}

func TestDiscoverAndFetch(t *testing.T) {
	b := scrapertest.NewBrowser()
	b.SetPage("http://local/in/buy/searches/visakhapatnam", `<div data-q="search-results">
		<article><a href="/in/buy/resale/page/3412345-plot-in-duvvada">Plot</a></article>
		<article><a href="/in/buy/resale/page/3412399-villa-in-kommadi?ref=srp">Villa</a></article>
		<div class="ad"><a href="/in/buy/resale/page/999">sponsored</a></div>
	</div>`)
	b.SetPage("http://local/in/buy/searches/visakhapatnam?page=2", `<div data-q="search-results"></div>`)
	b.SetPage("http://local/in/buy/resale/page/3412345-plot-in-duvvada", `<main><h1>200 Sq.Yd Plot</h1></main>`)

	h := New("http://local/")
	sess, err := b.OpenSession(context.Background())
	require.NoError(t, err)

	var got []string
	for d, err := range h.DiscoverListingIDs(context.Background(), sess, scraper.Filters{Location: "Visakhapatnam"}, scraper.Cursor{}) {
		require.NoError(t, err)
		got = append(got, d.ID)
	}
	assert.Equal(t, []string{"3412345", "3412399"}, got)

	page, err := h.FetchListing(context.Background(), sess, "3412345")
	require.NoError(t, err)
	assert.Equal(t, Name, page.Site)
	assert.Equal(t, "# 200 Sq.Yd Plot", page.RawContent)
}

func TestListingURLFallback(t *testing.T) {
	assert.Equal(t, "https://housing.com/in/buy/resale/page/42", Spec("").ListingURL("42"))
}
