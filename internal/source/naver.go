package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	naverMaxDisplay       = 100  // API page size ceiling
	naverMaxStart         = 1000 // API refuses start beyond this window
	naverMaxResponseBytes = 1 << 20
	naverClientTimeout    = 30 * time.Second
	naverUserAgent        = "newsgather/1.0"
	naverProbeKeyword     = "테스트"
)

// Naver collects through the Naver open news search API.
type Naver struct {
	clientID     string
	clientSecret string
	baseURL      string
	client       *http.Client

	// pause between paginated requests, the API rate limit is strict
	pageDelay time.Duration

	// keyword searched when the query is "latest"; results are sorted by
	// date and not keyword-filtered in that mode
	latestKeyword string
}

type NaverOptions struct {
	ClientID      string
	ClientSecret  string
	BaseURL       string // empty = production endpoint
	PageDelay     time.Duration
	LatestKeyword string
}

func NewNaver(opts NaverOptions) *Naver {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://openapi.naver.com/v1/search/news.json"
	}
	latest := opts.LatestKeyword
	if latest == "" {
		latest = "뉴스"
	}
	return &Naver{
		clientID:      opts.ClientID,
		clientSecret:  opts.ClientSecret,
		baseURL:       baseURL,
		client:        &http.Client{Timeout: naverClientTimeout},
		pageDelay:     opts.PageDelay,
		latestKeyword: latest,
	}
}

func (n *Naver) Name() string { return "naver_api" }

func (n *Naver) Tag() Tag { return TagAPI }

type naverItem struct {
	Title        string `json:"title"`
	OriginalLink string `json:"originallink"`
	Link         string `json:"link"`
	Description  string `json:"description"`
	PubDate      string `json:"pubDate"`
}

type naverResponse struct {
	Total   int         `json:"total"`
	Start   int         `json:"start"`
	Display int         `json:"display"`
	Items   []naverItem `json:"items"`
}

// Fetch pages through the search API until limit records survive the
// filters or the API window is exhausted. A failure on the first page is
// returned as an error; a failure on a later page degrades to the partial
// result already collected.
func (n *Naver) Fetch(ctx context.Context, q Query, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	keyword := q.Keyword
	filter := q
	if q.IsLatest() {
		keyword = n.latestKeyword
		filter = Query{} // no keyword filtering in latest mode
	}

	log.Printf("naver: collect start keyword=%q limit=%d", keyword, limit)

	collected := make([]Record, 0, limit)
	start := 1

	for len(collected) < limit && start <= naverMaxStart {
		display := limit - len(collected)
		if display > naverMaxDisplay {
			display = naverMaxDisplay
		}

		resp, err := n.search(ctx, keyword, display, start)
		if err != nil {
			if len(collected) > 0 {
				log.Printf("naver: page start=%d failed, returning %d partial records: %v", start, len(collected), err)
				return collected, nil
			}
			return nil, fmt.Errorf("naver: search %q: %w", keyword, err)
		}
		if len(resp.Items) == 0 {
			break
		}

		for _, it := range resp.Items {
			if len(collected) >= limit {
				break
			}
			rec, ok := n.normalize(it, q)
			if !ok {
				continue
			}
			if !rec.MatchesKeyword(filter) {
				continue
			}
			collected = append(collected, rec)
		}

		start += display

		// rate-limit pause before the next page, cancellable
		if len(collected) < limit && start <= naverMaxStart && n.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return collected, nil
			case <-time.After(n.pageDelay):
			}
		}
	}

	log.Printf("naver: collect done keyword=%q got=%d", keyword, len(collected))
	return collected, nil
}

func (n *Naver) search(ctx context.Context, keyword string, display, start int) (*naverResponse, error) {
	params := url.Values{}
	params.Set("query", keyword)
	params.Set("display", strconv.Itoa(display))
	params.Set("start", strconv.Itoa(start))
	params.Set("sort", "date")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Naver-Client-Id", n.clientID)
	req.Header.Set("X-Naver-Client-Secret", n.clientSecret)
	req.Header.Set("User-Agent", naverUserAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out naverResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, naverMaxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// normalize converts one API item into a Record. Items without a usable
// title or canonical link are dropped here, never passed downstream.
func (n *Naver) normalize(it naverItem, q Query) (Record, bool) {
	title := CleanText(it.Title)
	if title == "" {
		return Record{}, false
	}

	canonical := it.OriginalLink
	if canonical == "" {
		canonical = it.Link
	}
	if canonical == "" {
		return Record{}, false
	}

	return Record{
		Title:        title,
		OriginalLink: canonical,
		Link:         it.Link,
		Summary:      CleanText(it.Description),
		PubDate:      it.PubDate,
		Source:       TagAPI,
		Keyword:      q.Keyword,
		Category:     q.CategoryOrDefault(),
		Extra: map[string]any{
			"api":      "naver_news_search",
			"raw_link": it.Link,
		},
	}, true
}

// ValidateCredentials probes the API with a one-item search. Used by
// validate-setup flows, never during collection.
func (n *Naver) ValidateCredentials(ctx context.Context) error {
	resp, err := n.search(ctx, naverProbeKeyword, 1, 1)
	if err != nil {
		return fmt.Errorf("naver: credential probe: %w", err)
	}
	if resp.Items == nil && resp.Total == 0 && resp.Display == 0 {
		return fmt.Errorf("naver: credential probe returned an empty response")
	}
	return nil
}

// Close releases idle connections held by the HTTP client.
func (n *Naver) Close() {
	n.client.CloseIdleConnections()
}
