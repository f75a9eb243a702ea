package news

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var stripTags = bluemonday.StrictPolicy()

// Item is one candidate piece of content returned by a news tool.
type Item struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Summary     string  `json:"summary"`
	URL         string  `json:"url"`
	ImageURL    string  `json:"image_url,omitempty"`
	Score       int     `json:"score,omitempty"`
	Comments    int     `json:"comments,omitempty"`
	Source      string  `json:"source"`
	Subreddit   string  `json:"subreddit,omitempty"`
	Publisher   string  `json:"publisher,omitempty"`
	PublishedAt string  `json:"published_at,omitempty"`
	CreatedUTC  float64 `json:"created_utc,omitempty"`
}

// Key is the deduplication key: ID, else URL.
func (it Item) Key() string {
	if it.ID != "" {
		return it.ID
	}
	return it.URL
}

const (
	SourceReddit = "reddit"
	SourceGNews  = "gnews"
)

// Result is what a tool returns. Partitioned results carry Reddit and GNews
// lists; the generic Items list is only meaningful when Partitioned is false.
type Result struct {
	Partitioned bool
	Reddit      []Item
	GNews       []Item
	Items       []Item
}

// All returns every item in merge order.
func (r Result) All() []Item {
	if !r.Partitioned {
		return r.Items
	}
	out := make([]Item, 0, len(r.Reddit)+len(r.GNews))
	out = append(out, r.Reddit...)
	return append(out, r.GNews...)
}

// IsEnglish reports whether more than 80% of the alphanumerics in text are
// ASCII. Texts shorter than 10 characters are rejected.
func IsEnglish(text string) bool {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < 10 {
		return false
	}
	var ascii, total int
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		total++
		if r < utf8.RuneSelf {
			ascii++
		}
	}
	if total == 0 {
		return false
	}
	return float64(ascii)/float64(total) > 0.8
}

// CleanText strips markup, unescapes HTML entities, collapses whitespace and
// truncates to max runes at a word boundary, appending "...".
func CleanText(text string, max int) string {
	if text == "" {
		return ""
	}
	text = strings.Join(strings.Fields(html.UnescapeString(stripTags.Sanitize(text))), " ")
	runes := []rune(text)
	if len(runes) > max {
		cut := string(runes[:max])
		if i := strings.LastIndex(cut, " "); i >= 0 {
			cut = cut[:i]
		}
		text = cut + "..."
	}
	return strings.TrimSpace(text)
}

// Truncate shortens s to max runes without adding a marker.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func hasImageExt(u string) bool {
	u = strings.ToLower(u)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.Contains(u, ext) {
			return true
		}
	}
	return false
}
