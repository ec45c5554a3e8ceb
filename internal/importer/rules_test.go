package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openxui/panelsync/internal/models"
)

func TestCleanTitle(t *testing.T) {
	cases := map[string]string{
		"Heat.mkv":                        "Heat",
		"Heat 1995.MP4":                   "Heat 1995",
		"Heat (1995) [1080p]":             "Heat",
		"Some_Show-S01E01":                "Some Show S01E01",
		"Spaced   Out":                    "Spaced Out",
		"  Plain Title  ":                 "Plain Title",
		"The.Movie.m3u8":                  "The.Movie",
		"[FHD] ---":                       "[FHD] ---",
		"":                                "",
		"Dune: Part Two (2024) (Dublado)": "Dune: Part Two",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanTitle(in), "input %q", in)
	}
}

func TestIgnoreMatcherPrecedence(t *testing.T) {
	m := NewIgnoreMatcher(models.IgnoreRules{
		Categories:    []string{"10"},
		CategoryNames: []string{"Kids"},
		Prefixes:      []string{"CAM "},
	})

	// Category id beats everything else.
	reason, skip := m.Match("10", "Kids", "CAM Movie")
	assert.True(t, skip)
	assert.Equal(t, ReasonCategoryID, reason)

	// Category name beats the prefix rule.
	reason, skip = m.Match("11", "kids", "CAM Movie")
	assert.True(t, skip)
	assert.Equal(t, ReasonCategoryName, reason)

	// Prefix matches case-insensitively.
	reason, skip = m.Match("11", "Action", "cam movie rip")
	assert.True(t, skip)
	assert.Equal(t, ReasonTitlePrefix, reason)

	_, skip = m.Match("11", "Action", "Regular Movie")
	assert.False(t, skip)
}

func TestIgnoreMatcherEmptyRules(t *testing.T) {
	m := NewIgnoreMatcher(models.IgnoreRules{})
	_, skip := m.Match("1", "Anything", "Anything")
	assert.False(t, skip)
}

func TestAdultClassifier(t *testing.T) {
	opts := models.DefaultOptions()
	opts.AdultCategories = []int64{99}
	opts.AdultKeywords = []string{"hotclub"}
	c := NewAdultClassifier(opts)

	assert.True(t, c.IsAdult("99", "Whatever", "Some Movie", ""))
	assert.True(t, c.IsAdult("1", "XXX Collection", "Some Movie", ""))
	assert.True(t, c.IsAdult("1", "Drama", "Sensual Nights", ""))
	assert.True(t, c.IsAdult("1", "Drama", "Movie +18", ""))
	assert.True(t, c.IsAdult("1", "Drama", "Plain", "Horror, Erotica"))
	assert.True(t, c.IsAdult("1", "HotClub Specials", "Plain", ""))
	assert.False(t, c.IsAdult("1", "Drama", "Plain Movie", "Comedy"))
}

func TestUnionCategories(t *testing.T) {
	union, grew := unionCategories([]int64{5, 7}, 9)
	assert.True(t, grew)
	assert.Equal(t, []int64{5, 7, 9}, union)

	union, grew = unionCategories([]int64{5, 7}, 7)
	assert.False(t, grew)
	assert.Equal(t, []int64{5, 7}, union)

	_, grew = unionCategories([]int64{5}, 0)
	assert.False(t, grew)
}
