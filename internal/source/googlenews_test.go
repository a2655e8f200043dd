package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

const gnewsCardPage = `<html><body>
<article>
  <a class="JtKRv" href="./articles/abc123">반도체 수출 역대 최대</a>
  <div class="vr1PYe">연합뉴스</div>
  <time datetime="2026-08-01T02:00:00Z">2시간 전</time>
</article>
<article>
  <h3><a href="./articles/def456">반도체 장비 투자 확대</a></h3>
</article>
<article>
  <a class="JtKRv" href="./articles/ghi789">무관한 연예 기사</a>
</article>
<article><div>no link in this card</div></article>
</body></html>`

const gnewsSearchFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>"반도체" - Google 뉴스</title>
<item>
  <title>반도체 가격 반등</title>
  <link>https://press.example/rss-1</link>
  <pubDate>Fri, 01 Aug 2026 01:00:00 GMT</pubDate>
  <description>&lt;a href=&quot;#&quot;&gt;반도체 가격&lt;/a&gt; 반등 조짐</description>
  <author>매일경제</author>
</item>
<item>
  <title>다른 소식</title>
  <link>https://press.example/rss-2</link>
</item>
</channel></rss>`

func TestGoogleNewsScrapeExtractsCards(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, gnewsCardPage)
	}))
	defer srv.Close()

	g := NewGoogleNews(GoogleNewsOptions{BaseURL: srv.URL})
	records, err := g.Fetch(context.Background(), Query{Keyword: "반도체", Category: "it"}, 10)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 keyword-matching cards, got %d", len(records))
	}

	first := records[0]
	if first.Title != "반도체 수출 역대 최대" {
		t.Fatalf("title = %q", first.Title)
	}
	if want := srv.URL + "/articles/abc123"; first.OriginalLink != want {
		t.Fatalf("link = %q, want %q", first.OriginalLink, want)
	}
	if first.PubDate != "2026-08-01T02:00:00Z" {
		t.Fatalf("pub date = %q", first.PubDate)
	}
	if first.Source != TagCrawl || first.Category != "it" {
		t.Fatalf("provenance fields wrong: %+v", first)
	}
	if press, _ := first.Extra["press"].(string); press != "연합뉴스" {
		t.Fatalf("press = %q", press)
	}
}

func TestGoogleNewsScrapeRespectsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>")
		for i := 0; i < 20; i++ {
			fmt.Fprintf(w, `<article><a class="JtKRv" href="./articles/%d">반도체 기사 %d</a></article>`, i, i)
		}
		fmt.Fprint(w, "</body></html>")
	}))
	defer srv.Close()

	g := NewGoogleNews(GoogleNewsOptions{BaseURL: srv.URL})
	records, err := g.Fetch(context.Background(), Query{Keyword: "반도체"}, 5)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected limit of 5, got %d", len(records))
	}
}

func TestGoogleNewsFallsBackToRSS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<html><body><p>client-rendered shell, no articles</p></body></html>")
		case "/rss/search":
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprint(w, gnewsSearchFeed)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewGoogleNews(GoogleNewsOptions{BaseURL: srv.URL})
	records, err := g.Fetch(context.Background(), Query{Keyword: "반도체"}, 10)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 keyword-matching feed item, got %d", len(records))
	}
	if records[0].OriginalLink != "https://press.example/rss-1" {
		t.Fatalf("link = %q", records[0].OriginalLink)
	}
	if records[0].Summary != "반도체 가격 반등 조짐" {
		t.Fatalf("summary not cleaned: %q", records[0].Summary)
	}
}

func TestGoogleNewsFallsBackToRenderService(t *testing.T) {
	render := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/render" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req renderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			t.Errorf("bad render request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(renderResponse{OK: true, HTML: gnewsCardPage})
	}))
	defer render.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// both the page and the feed come back useless
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body></body></html>")
	}))
	defer srv.Close()

	g := NewGoogleNews(GoogleNewsOptions{BaseURL: srv.URL, RenderURL: render.URL})
	records, err := g.Fetch(context.Background(), Query{Keyword: "반도체"}, 10)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records from rendered HTML, got %d", len(records))
	}
}
