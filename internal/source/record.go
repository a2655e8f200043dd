package source

import (
	"html"
	"regexp"
	"strings"
)

// Tag identifies which adapter produced a record.
type Tag string

const (
	TagAPI   Tag = "api"
	TagCrawl Tag = "crawl"
)

const DefaultCategory = "general"

// Record is the common shape both adapters normalize into before anything
// downstream sees the data. Immutable once produced.
type Record struct {
	Title        string
	OriginalLink string // canonical publisher URL, the dedup key
	Link         string // display link (may be a redirect through the source)
	Summary      string
	PubDate      string // opaque source-formatted timestamp, stored as-is
	Source       Tag
	Keyword      string
	Category     string
	Extra        map[string]any // raw provenance: press name, rank, API fields
}

// Query describes what to collect. An empty Keyword means "latest":
// current headlines, no keyword filtering.
type Query struct {
	Keyword  string
	Category string
}

func Latest() Query { return Query{} }

func (q Query) IsLatest() bool { return q.Keyword == "" }

func (q Query) CategoryOrDefault() string {
	if q.Category == "" {
		return DefaultCategory
	}
	return q.Category
}

// MatchesKeyword reports whether the record passes the source-local content
// filter: with a keyword query, the keyword must appear in the title or the
// summary (case-insensitive). Latest queries match everything.
func (r Record) MatchesKeyword(q Query) bool {
	if q.IsLatest() {
		return true
	}
	kw := strings.ToLower(q.Keyword)
	if strings.Contains(strings.ToLower(r.Title), kw) {
		return true
	}
	return r.Summary != "" && strings.Contains(strings.ToLower(r.Summary), kw)
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)
var spacePattern = regexp.MustCompile(`\s+`)

// CleanText strips HTML tags and entities from source-provided text.
// Naver returns titles like `<b>한국</b> 경제 &amp; 산업`; Google News
// snippets carry the same kind of markup.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}
