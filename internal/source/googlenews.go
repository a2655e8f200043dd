package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/mmcdole/gofeed"
)

const (
	gnewsDefaultBase    = "https://news.google.com"
	gnewsUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	gnewsRequestTimeout = 30 * time.Second
	gnewsMaxBodyBytes   = 4 << 20 // Google News pages are heavy
	gnewsRenderMaxChars = 400000
)

// GoogleNews scrapes the Google News search/headlines pages. The page is
// rendered mostly client-side these days, so the scrape is best-effort with
// two fallbacks: the RSS search feed, and (when configured) a headless
// render sidecar whose HTML we parse with goquery.
type GoogleNews struct {
	baseURL   string
	renderURL string // render sidecar base URL, empty = disabled
	client    *http.Client
	feeds     *gofeed.Parser
}

type GoogleNewsOptions struct {
	BaseURL   string // empty = news.google.com
	RenderURL string
}

func NewGoogleNews(opts GoogleNewsOptions) *GoogleNews {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = gnewsDefaultBase
	}
	client := &http.Client{Timeout: gnewsRequestTimeout}
	feeds := gofeed.NewParser()
	feeds.UserAgent = gnewsUserAgent
	return &GoogleNews{
		baseURL:   strings.TrimRight(baseURL, "/"),
		renderURL: strings.TrimRight(opts.RenderURL, "/"),
		client:    client,
		feeds:     feeds,
	}
}

func (g *GoogleNews) Name() string { return "google_news" }

func (g *GoogleNews) Tag() Tag { return TagCrawl }

func (g *GoogleNews) Fetch(ctx context.Context, q Query, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	pageURL := g.pageURL(q)
	log.Printf("google_news: collect start keyword=%q limit=%d", q.Keyword, limit)

	records, scrapeErr := g.scrape(ctx, pageURL, q, limit)
	if len(records) == 0 {
		if scrapeErr != nil {
			log.Printf("google_news: scrape failed, trying rss: %v", scrapeErr)
		} else {
			log.Printf("google_news: scrape got 0 items, trying rss")
		}
		var rssErr error
		records, rssErr = g.fromRSS(ctx, q, limit)
		if rssErr != nil {
			log.Printf("google_news: rss fallback failed: %v", rssErr)
		}
	}
	if len(records) == 0 && g.renderURL != "" {
		var renderErr error
		records, renderErr = g.fromRender(ctx, pageURL, q, limit)
		if renderErr != nil {
			log.Printf("google_news: render fallback failed: %v", renderErr)
		}
	}

	if len(records) == 0 {
		if scrapeErr != nil {
			return nil, fmt.Errorf("google_news: all strategies empty, first error: %w", scrapeErr)
		}
		log.Printf("google_news: collect got 0 items keyword=%q", q.Keyword)
		return nil, nil
	}

	if len(records) > limit {
		records = records[:limit]
	}
	log.Printf("google_news: collect done keyword=%q got=%d", q.Keyword, len(records))
	return records, nil
}

func (g *GoogleNews) pageURL(q Query) string {
	if q.IsLatest() {
		return g.baseURL + "/?hl=ko&gl=KR&ceid=KR%3Ako"
	}
	return g.baseURL + "/search?q=" + url.QueryEscape(q.Keyword) + "&hl=ko&gl=KR&ceid=KR%3Ako"
}

// scrape walks article cards on the page. The DOM shifts frequently, so
// both the card selector and the inner fields go through fallback chains.
func (g *GoogleNews) scrape(ctx context.Context, pageURL string, q Query, limit int) ([]Record, error) {
	c := colly.NewCollector(colly.UserAgent(gnewsUserAgent))
	c.SetRequestTimeout(gnewsRequestTimeout)

	records := make([]Record, 0, limit)

	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
	})

	c.OnHTML("article", func(e *colly.HTMLElement) {
		if len(records) >= limit {
			return
		}
		if rec, ok := g.extractCard(e.DOM, e.Request.URL.String(), q); ok {
			records = append(records, rec)
		}
	})

	if err := c.Visit(pageURL); err != nil {
		return nil, err
	}
	c.Wait()
	return records, nil
}

// extractCard pulls one record out of an <article> card. Returns false when
// the card has no usable title/link or fails the keyword filter.
func (g *GoogleNews) extractCard(card *goquery.Selection, pageURL string, q Query) (Record, bool) {
	title := ""
	link := ""

	// title/link selector chain, newest layout first
	for _, sel := range []string{"a.JtKRv", "h3 a", "h4 a", "a[href*='./articles/']", "a[href*='./read/']"} {
		a := card.Find(sel).First()
		if a.Length() == 0 {
			continue
		}
		t := strings.TrimSpace(a.Text())
		href, _ := a.Attr("href")
		if t == "" || href == "" {
			continue
		}
		title = CleanText(t)
		link = g.absoluteLink(href)
		break
	}
	if title == "" || link == "" {
		return Record{}, false
	}

	press := strings.TrimSpace(card.Find("div.vr1PYe").First().Text())
	if press == "" {
		press = strings.TrimSpace(card.Find("a[data-n-tid]").First().Text())
	}

	pubDate := ""
	if t := card.Find("time").First(); t.Length() > 0 {
		if dt, ok := t.Attr("datetime"); ok {
			pubDate = dt
		} else {
			pubDate = strings.TrimSpace(t.Text())
		}
	}

	summary := ""
	card.Find("div, span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := CleanText(s.Text())
		if len([]rune(t)) >= 40 && t != title {
			summary = t
			return false
		}
		return true
	})

	rec := Record{
		Title:        title,
		OriginalLink: link,
		Link:         link,
		Summary:      summary,
		PubDate:      pubDate,
		Source:       TagCrawl,
		Keyword:      q.Keyword,
		Category:     q.CategoryOrDefault(),
		Extra: map[string]any{
			"press":    press,
			"page_url": pageURL,
		},
	}
	if !rec.MatchesKeyword(q) {
		return Record{}, false
	}
	return rec, true
}

func (g *GoogleNews) absoluteLink(href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	return g.baseURL + "/" + strings.TrimPrefix(strings.TrimPrefix(href, "./"), "/")
}

// fromRSS reads the search feed, which stays stable while the HTML churns.
func (g *GoogleNews) fromRSS(ctx context.Context, q Query, limit int) ([]Record, error) {
	feedURL := g.baseURL + "/rss?hl=ko&gl=KR&ceid=KR%3Ako"
	if !q.IsLatest() {
		feedURL = g.baseURL + "/rss/search?q=" + url.QueryEscape(q.Keyword) + "&hl=ko&gl=KR&ceid=KR%3Ako"
	}

	feed, err := g.feeds.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	records := make([]Record, 0, limit)
	for _, item := range feed.Items {
		if len(records) >= limit {
			break
		}
		title := CleanText(item.Title)
		if title == "" || item.Link == "" {
			continue
		}
		press := ""
		if item.Author != nil {
			press = item.Author.Name
		}
		rec := Record{
			Title:        title,
			OriginalLink: item.Link,
			Link:         item.Link,
			Summary:      CleanText(item.Description),
			PubDate:      item.Published,
			Source:       TagCrawl,
			Keyword:      q.Keyword,
			Category:     q.CategoryOrDefault(),
			Extra: map[string]any{
				"press":    press,
				"feed_url": feedURL,
			},
		}
		if !rec.MatchesKeyword(q) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

type renderRequest struct {
	URL      string `json:"url"`
	MaxChars int    `json:"maxChars"`
}

type renderResponse struct {
	OK    bool   `json:"ok"`
	HTML  string `json:"html,omitempty"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// fromRender asks the headless sidecar for the rendered page and parses the
// returned HTML with goquery, reusing the same card extraction as the scrape.
func (g *GoogleNews) fromRender(ctx context.Context, pageURL string, q Query, limit int) ([]Record, error) {
	body, err := json.Marshal(renderRequest{URL: pageURL, MaxChars: gnewsRenderMaxChars})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.renderURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request: %w", err)
	}
	defer resp.Body.Close()

	var rendered renderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, gnewsMaxBodyBytes)).Decode(&rendered); err != nil {
		return nil, fmt.Errorf("decode render response: %w", err)
	}
	if !rendered.OK {
		return nil, fmt.Errorf("render service: %s", rendered.Error)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse rendered html: %w", err)
	}

	records := make([]Record, 0, limit)
	doc.Find("article").EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if rec, ok := g.extractCard(card, pageURL, q); ok {
			records = append(records, rec)
		}
		return len(records) < limit
	})
	return records, nil
}

// Close releases idle connections held by the HTTP client.
func (g *GoogleNews) Close() {
	g.client.CloseIdleConnections()
}
