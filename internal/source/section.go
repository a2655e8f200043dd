package source

// Section names accepted by the CLI and HTTP API, mapped to the search
// keyword the crawl source uses for them.
var sectionKeywords = map[string]string{
	"politics": "정치",
	"economy":  "경제",
	"society":  "사회",
	"culture":  "문화",
	"world":    "국제",
	"it":       "IT",
}

// SectionKeyword resolves a section name to its crawl keyword.
func SectionKeyword(section string) (string, bool) {
	kw, ok := sectionKeywords[section]
	return kw, ok
}

// Sections returns the known section names.
func Sections() []string {
	out := make([]string, 0, len(sectionKeywords))
	for s := range sectionKeywords {
		out = append(out, s)
	}
	return out
}
