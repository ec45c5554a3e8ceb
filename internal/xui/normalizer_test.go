package xui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStreamSource(t *testing.T) {
	in := []string{" http://a/1.mp4 ", "", "http://a/1.mp4", "http://b/2.mp4", "  "}
	assert.Equal(t, []string{"http://a/1.mp4", "http://b/2.mp4"}, NormalizeStreamSource(in))
	assert.Empty(t, NormalizeStreamSource(nil))
}

func TestSourceTagFromURL(t *testing.T) {
	assert.Equal(t, "panel.example.com:8080", SourceTagFromURL("http://Panel.Example.com:8080/movie/u/p/1.mp4"))
	assert.Equal(t, "panel.example.com", SourceTagFromURL("https://panel.example.com/x"))
	assert.Equal(t, "", SourceTagFromURL("::bad::url"))
	assert.Equal(t, "", SourceTagFromURL("not-a-url"))
}

func TestMajorityTag(t *testing.T) {
	assert.Equal(t, "a:1", MajorityTag([]string{"a:1", "b:2", "a:1", "", "a:1", "b:2"}))
	assert.Equal(t, "", MajorityTag(nil))
	// First tag to reach the top count wins ties.
	assert.Equal(t, "x", MajorityTag([]string{"x", "y"}))
}

func TestParseStreamSource(t *testing.T) {
	t.Run("clean array unchanged", func(t *testing.T) {
		normalized, first, changed := parseStreamSource(`["http://a/1.mp4","http://b/2.mp4"]`)
		assert.False(t, changed)
		assert.Equal(t, "http://a/1.mp4", first)
		assert.Len(t, normalized, 2)
	})

	t.Run("bare string becomes array", func(t *testing.T) {
		normalized, first, changed := parseStreamSource("http://a/1.mp4")
		assert.True(t, changed)
		assert.Equal(t, []string{"http://a/1.mp4"}, normalized)
		assert.Equal(t, "http://a/1.mp4", first)
	})

	t.Run("json string becomes array", func(t *testing.T) {
		normalized, _, changed := parseStreamSource(`"http://a/1.mp4"`)
		assert.True(t, changed)
		assert.Equal(t, []string{"http://a/1.mp4"}, normalized)
	})

	t.Run("duplicates and padding rewritten", func(t *testing.T) {
		normalized, first, changed := parseStreamSource(`[" http://a/1.mp4", "http://a/1.mp4", ""]`)
		assert.True(t, changed)
		assert.Equal(t, []string{"http://a/1.mp4"}, normalized)
		assert.Equal(t, "http://a/1.mp4", first)
	})

	t.Run("non-string entries dropped", func(t *testing.T) {
		normalized, _, changed := parseStreamSource(`[42, "http://a/1.mp4"]`)
		assert.True(t, changed)
		assert.Equal(t, []string{"http://a/1.mp4"}, normalized)
	})

	t.Run("empty value untouched", func(t *testing.T) {
		normalized, first, changed := parseStreamSource("")
		assert.False(t, changed)
		assert.Empty(t, normalized)
		assert.Equal(t, "", first)
	})
}

func TestSerializeCategories(t *testing.T) {
	assert.Equal(t, "[3,1,2]", serializeCategories([]int64{3, 1, 3, 2, 1}))
	assert.Equal(t, "[]", serializeCategories(nil))
}
