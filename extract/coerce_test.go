package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		input    any
		expected float64
	}{
		{"24.0 L", 2400000},
		{"24 Lac", 2400000},
		{"14 Lakhs", 1400000},
		{"1.2 Cr", 12000000},
		{"₹45,00,000", 4500000},
		{"Rs. 14 Lakh", 1400000},
		{"INR 9,50,000", 950000},
		{"24 - 30 Lac", 2400000},
		{"85k", 85000},
		{"1.25 Crores onwards", 12500000},
		{float64(3200000), 3200000},
	}

	for _, tt := range tests {
		got, err := parseMoney(tt.input)
		require.NoError(t, err, "parseMoney(%v)", tt.input)
		assert.InDelta(t, tt.expected, got, 0.001, "parseMoney(%v)", tt.input)
	}
}

func TestParseMoneyRejects(t *testing.T) {
	for _, input := range []any{"-5 L", float64(-1), "price on request", true, "Rs. -5000", "₹ -24 L", "INR -1.2 Cr", "Rs −45,00,000"} {
		_, err := parseMoney(input)
		assert.Error(t, err, "parseMoney(%v)", input)
	}
}

func TestParseArea(t *testing.T) {
	tests := []struct {
		input    any
		expected float64
	}{
		{"1,800 sqft", 1800},
		{"1200 sq.ft.", 1200},
		{"200 sq.yd", 1800},
		{"167 Sq. Yards plot", 1503},
		{"150 gaj", 1350},
		{"100 sq.m", 1076.39},
		{"1 acre", 43560},
		{"5 cents", 2178},
		{"2 ankanams", 144},
		{"1 guntha", 1089},
		{"950", 950},
		{float64(1500), 1500},
	}

	for _, tt := range tests {
		got, err := parseArea(tt.input)
		require.NoError(t, err, "parseArea(%v)", tt.input)
		assert.InDelta(t, tt.expected, got, 0.01, "parseArea(%v)", tt.input)
	}
}

func TestParseAreaRejects(t *testing.T) {
	for _, input := range []any{"-200 sqft", "200 furlongs", "large", float64(-3), "area: -200 sqft", "approx - 1 acre"} {
		_, err := parseArea(input)
		assert.Error(t, err, "parseArea(%v)", input)
	}
}

func TestParseCount(t *testing.T) {
	n, err := parseCount("3 BHK")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = parseCount(float64(2))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = parseCount(2.5)
	assert.Error(t, err)
	_, err = parseCount("-1")
	assert.Error(t, err)
}

func TestParseListDedupesAndSorts(t *testing.T) {
	got, err := parseList([]any{"Park", "gated community", "park", " Security "})
	require.NoError(t, err)
	assert.Equal(t, []string{"gated community", "Park", "Security"}, got)

	got, err = parseList("Water supply; Power backup | water supply, N/A")
	require.NoError(t, err)
	assert.Equal(t, []string{"Power backup", "Water supply"}, got)

	_, err = parseList(float64(3))
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	ref := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2024-03-01", day(2024, 3, 1)},
		{"Posted on 05 Mar 2024", day(2024, 3, 5)},
		{"Mar 2, 2024", day(2024, 3, 2)},
		{"today", day(2024, 3, 10)},
		{"Yesterday", day(2024, 3, 9)},
		{"3 days ago", day(2024, 3, 7)},
		{"posted 2 weeks ago", day(2024, 2, 25)},
	}

	for _, tt := range tests {
		got, err := parseDate(tt.input, ref)
		require.NoError(t, err, "parseDate(%q)", tt.input)
		assert.Equal(t, tt.expected, got, "parseDate(%q)", tt.input)
	}

	_, err := parseDate("sometime last spring", ref)
	assert.Error(t, err)
}

func TestIsMissing(t *testing.T) {
	for _, v := range []any{nil, "", "  ", "Not available", "N/A", "null", []any{}} {
		assert.True(t, isMissing(v), "isMissing(%v)", v)
	}
	for _, v := range []any{"0", float64(0), "Duvvada"} {
		assert.False(t, isMissing(v), "isMissing(%v)", v)
	}
}

func TestNormaliseText(t *testing.T) {
	assert.Equal(t, "Hello World", normaliseText("  Hello   World  "))
	assert.Equal(t, "a b", normaliseText("a\n\tb"))
	assert.Equal(t, "", normaliseText("   "))
}
