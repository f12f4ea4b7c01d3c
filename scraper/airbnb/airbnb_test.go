package airbnb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realestate-crawler/scraper"
	"realestate-crawler/scraper/scrapertest"
)

func TestSearchURLFallsBackToDefaultLocation(t *testing.T) {
	spec := Spec("")
	assert.Equal(t, "https://www.airbnb.com/s/Bangkok/homes", spec.SearchURL(scraper.Filters{}, 1))
	assert.Equal(t, "https://www.airbnb.com/s/Goa%20India/homes?price_max=9000", spec.SearchURL(scraper.Filters{Location: "Goa India", MaxPrice: 9000}, 1))
}

func TestDiscoverFollowsNextLink(t *testing.T) {
	b := scrapertest.NewBrowser()
	b.SetPage("http://local/s/Goa/homes", `<main>
		<div itemprop="itemListElement"><a href="/rooms/111?check_in=x">A</a></div>
		<div itemprop="itemListElement"><a href="/rooms/222">B</a></div>
		<nav><a aria-label="Next" href="/s/Goa/homes?items_offset=18">Next</a></nav>
	</main>`)
	b.SetPage("http://local/s/Goa/homes?items_offset=18", `<main>
		<div data-testid="card-container"><a href="/rooms/333">C</a></div>
	</main>`)

	h := New("http://local")
	sess, err := b.OpenSession(context.Background())
	require.NoError(t, err)

	var got []scraper.Discovered
	for d, err := range h.DiscoverListingIDs(context.Background(), sess, scraper.Filters{Location: "Goa"}, scraper.Cursor{}) {
		require.NoError(t, err)
		got = append(got, d)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "111", got[0].ID)
	assert.Equal(t, "http://local/rooms/111?check_in=x", got[0].URL)
	assert.Equal(t, "333", got[2].ID)
	assert.Equal(t, "http://local/s/Goa/homes?items_offset=18", got[2].Cursor.URL)
}
