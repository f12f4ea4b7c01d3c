package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderText(t *testing.T) {
	html := `<main>
		<script>var tracking = 1;</script>
		<style>.x{color:red}</style>
		<h1>200 Sq.Yd Plot   in Duvvada</h1>
		<div class="price">₹ 24.0 L</div>
		<ul><li>Gated community</li><li>Park</li></ul>
		<table><tr><th>Facing</th><td>North-East</td></tr></table>
		<p hidden>internal</p>
		<p>Posted <b>3 days</b> ago</p>
	</main>`

	got, err := RenderText(html)
	require.NoError(t, err)

	assert.Equal(t, "# 200 Sq.Yd Plot in Duvvada\n\n₹ 24.0 L\n\n- Gated community\n- Park\n\nFacing | North-East\n\nPosted 3 days ago", got)
}

func TestRenderTextEmpty(t *testing.T) {
	got, err := RenderText(`<div><script>x()</script></div>`)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "navi-mumbai", Slug("Navi Mumbai"))
	assert.Equal(t, "visakhapatnam", Slug("  Visakhapatnam "))
	assert.Equal(t, "p-m-palem", Slug("P.M. Palem"))
}
