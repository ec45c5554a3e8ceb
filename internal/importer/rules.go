package importer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/openxui/panelsync/internal/models"
)

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

var (
	extensionSuffix = regexp.MustCompile(`(?i)\.(mkv|mp4|avi|mov|wmv|m3u8)$`)
	bracketedTags   = regexp.MustCompile(`\s*[\[\(][^\]\)]*[\)\]]\s*`)
	symbolRuns      = regexp.MustCompile(`[-_]+`)
	multiSpace      = regexp.MustCompile(`\s{2,}`)
)

// CleanTitle strips container-extension suffixes, bracketed release
// tags, and dash/underscore runs from a source title. Falls back to
// the trimmed original when cleaning leaves nothing.
func CleanTitle(name string) string {
	if name == "" {
		return ""
	}
	cleaned := extensionSuffix.ReplaceAllString(name, "")
	cleaned = bracketedTags.ReplaceAllString(cleaned, " ")
	cleaned = symbolRuns.ReplaceAllString(cleaned, " ")
	cleaned = multiSpace.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return strings.TrimSpace(name)
	}
	return cleaned
}

// Ignore rule reasons, recorded in item logs so operators can see
// which rule filtered an item.
const (
	ReasonCategoryID     = "ignored_category_id"
	ReasonCategoryName   = "ignored_category_name"
	ReasonTitlePrefix    = "ignored_title_prefix"
	ReasonDuplicate      = "duplicate"
	ReasonMissingData    = "missing_data"
	ReasonMissingMapping = "missing_category_mapping"
)

// IgnoreMatcher applies a tenant's skip rules to source items.
// Precedence is fixed: category id, then category name, then title
// prefix; the first matching rule wins.
type IgnoreMatcher struct {
	categoryIDs   map[string]struct{}
	categoryNames map[string]struct{}
	prefixes      []string
}

func NewIgnoreMatcher(rules models.IgnoreRules) *IgnoreMatcher {
	m := &IgnoreMatcher{
		categoryIDs:   make(map[string]struct{}, len(rules.Categories)),
		categoryNames: make(map[string]struct{}, len(rules.CategoryNames)),
	}
	for _, id := range rules.Categories {
		id = strings.TrimSpace(id)
		if id != "" {
			m.categoryIDs[id] = struct{}{}
		}
	}
	for _, name := range rules.CategoryNames {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			m.categoryNames[name] = struct{}{}
		}
	}
	for _, p := range rules.Prefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			m.prefixes = append(m.prefixes, p)
		}
	}
	return m
}

// Match reports whether an item should be skipped and the reason of
// the first rule that matched.
func (m *IgnoreMatcher) Match(categoryID, categoryName, title string) (string, bool) {
	if _, ok := m.categoryIDs[strings.TrimSpace(categoryID)]; ok {
		return ReasonCategoryID, true
	}
	if _, ok := m.categoryNames[strings.ToLower(strings.TrimSpace(categoryName))]; ok {
		return ReasonCategoryName, true
	}
	lowered := strings.ToLower(strings.TrimSpace(title))
	for _, p := range m.prefixes {
		if strings.HasPrefix(lowered, p) {
			return ReasonTitlePrefix, true
		}
	}
	return "", false
}

// Built-in adult markers; tenant options extend, never replace, them.
var adultKeywords = []string{"adult", "xxx", "porn", "erotic", "sensual", "+18", "nsfw"}

var adultGenres = map[string]struct{}{"adult": {}, "erotica": {}}

// AdultClassifier routes adult content to the adult bouquet instead
// of the regular one.
type AdultClassifier struct {
	keywords    []string
	categoryIDs map[string]struct{}
}

func NewAdultClassifier(opts models.Options) *AdultClassifier {
	c := &AdultClassifier{
		keywords:    make([]string, 0, len(adultKeywords)+len(opts.AdultKeywords)),
		categoryIDs: make(map[string]struct{}, len(opts.AdultCategories)),
	}
	c.keywords = append(c.keywords, adultKeywords...)
	for _, kw := range opts.AdultKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			c.keywords = append(c.keywords, kw)
		}
	}
	for _, id := range opts.AdultCategories {
		c.categoryIDs[formatID(id)] = struct{}{}
	}
	return c
}

// IsAdult checks the source category id against the tenant's adult
// categories, then scans title, category name and genre for adult
// markers.
func (c *AdultClassifier) IsAdult(categoryID, categoryName, title, genre string) bool {
	if _, ok := c.categoryIDs[strings.TrimSpace(categoryID)]; ok {
		return true
	}
	for _, g := range strings.Split(strings.ToLower(genre), ",") {
		if _, ok := adultGenres[strings.TrimSpace(g)]; ok {
			return true
		}
	}
	haystack := strings.ToLower(categoryName + " " + title)
	for _, kw := range c.keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
